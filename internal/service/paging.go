package service

const (
	defaultOrderLimit   = 20
	defaultProductLimit = 12
	maxPageLimit        = 100
)

// paging turns a 1-based page and a limit into store offsets.
type paging struct {
	page  int
	limit int
}

func newPaging(page, limit, def int) paging {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return paging{page: page, limit: limit}
}

func (p paging) offset() int {
	return (p.page - 1) * p.limit
}

func (p paging) pages(total int64) int {
	return int((total + int64(p.limit) - 1) / int64(p.limit))
}
