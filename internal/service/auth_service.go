package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/auth"
	"techstore/internal/models"
	"techstore/internal/store"
	"techstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errBadCredentials = apperr.Unauthorized("invalid email or password")

// AuthService registers accounts and issues bearer tokens
type AuthService struct {
	users  store.UserRepository
	tokens *auth.TokenManager
	admins map[string]bool
	now    func() time.Time
	logger *zap.Logger
}

// NewAuthService creates a new auth service. Accounts registered with an
// email in adminEmails get the admin role.
func NewAuthService(users store.UserRepository, tokens *auth.TokenManager, adminEmails []string) *AuthService {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	return &AuthService{
		users:  users,
		tokens: tokens,
		admins: admins,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// RegisterRequest is the sign-up payload. Any role sent by the client is ignored.
type RegisterRequest struct {
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	Phone     string          `json:"phone,omitempty"`
	Address   *models.Address `json:"address,omitempty"`
}

// LoginRequest is the sign-in payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest changes profile fields. Nil fields are left alone.
type UpdateProfileRequest struct {
	FirstName       *string         `json:"firstName,omitempty"`
	LastName        *string         `json:"lastName,omitempty"`
	Phone           *string         `json:"phone,omitempty"`
	Address         *models.Address `json:"address,omitempty"`
	CurrentPassword string          `json:"currentPassword,omitempty"`
	NewPassword     string          `json:"newPassword,omitempty"`
}

// Session is a signed-in user with its token.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      models.PublicUser `json:"user"`
}

// Register creates a customer account and signs it in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Register")
	defer span.End()

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	email := normalizeEmail(req.Email)

	switch {
	case req.FirstName == "" || req.LastName == "":
		return nil, s.rejected("register", apperr.Validation("first and last name are required"))
	case !validEmail(email):
		return nil, s.rejected("register", apperr.Validation("a valid email is required"))
	case len(req.Password) < auth.MinPasswordLength:
		return nil, s.rejected("register", apperr.Validation("password must be at least %d characters", auth.MinPasswordLength))
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	role := models.RoleCustomer
	if s.admins[email] {
		role = models.RoleAdmin
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Phone:        strings.TrimSpace(req.Phone),
		Address:      req.Address,
		LastLogin:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, s.rejected("register", apperr.Conflict("an account with this email already exists"))
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	util.AuthAttemptsTotal.WithLabelValues("register", "success").Inc()
	s.logger.Info("User registered", zap.String("user_id", user.ID), zap.String("role", role))
	return s.session(user)
}

// Login verifies credentials. Unknown emails and wrong passwords fail alike.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, s.rejected("login", apperr.Validation("email and password are required"))
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, s.rejected("login", errBadCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.rejected("login", errBadCredentials)
	}

	now := s.now().UTC()
	user.LastLogin = now
	user.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		s.logger.Warn("Failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	util.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()
	return s.session(user)
}

// Profile returns the account behind userID.
func (s *AuthService) Profile(ctx context.Context, userID string) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Profile")
	defer span.End()

	return s.users.GetUser(ctx, userID)
}

// UpdateProfile applies req. Changing the password requires the current one.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.UpdateProfile")
	defer span.End()

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		if user.FirstName = strings.TrimSpace(*req.FirstName); user.FirstName == "" {
			return nil, apperr.Validation("first name cannot be empty")
		}
	}
	if req.LastName != nil {
		if user.LastName = strings.TrimSpace(*req.LastName); user.LastName == "" {
			return nil, apperr.Validation("last name cannot be empty")
		}
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		user.Address = req.Address
	}

	if req.NewPassword != "" {
		ok, err := auth.CheckPassword(user.PasswordHash, req.CurrentPassword)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Unauthorized("current password is incorrect")
		}
		if len(req.NewPassword) < auth.MinPasswordLength {
			return nil, apperr.Validation("password must be at least %d characters", auth.MinPasswordLength)
		}
		if user.PasswordHash, err = auth.HashPassword(req.NewPassword); err != nil {
			return nil, err
		}
	}

	user.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

func (s *AuthService) session(user *models.User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user.Public()}, nil
}

func (s *AuthService) rejected(op string, err error) error {
	util.AuthAttemptsTotal.WithLabelValues(op, "rejected").Inc()
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}
