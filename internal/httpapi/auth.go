package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"farmstall/backend/internal/domain"
	"farmstall/backend/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// AuthManager issues and verifies access tokens and owns the user accounts.
type AuthManager struct {
	repo     store.Repository
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewAuthManager(repo store.Repository, secret []byte, tokenTTL time.Duration) *AuthManager {
	return &AuthManager{
		repo:     repo,
		secret:   secret,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// SeedFirstAdmin creates the initial admin account when no users exist. A
// blank password skips seeding so a fresh database is not reachable with a
// well-known credential.
func (a *AuthManager) SeedFirstAdmin(ctx context.Context, username string, password string) error {
	if password == "" {
		return nil
	}
	count, err := a.repo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	_, err = a.repo.CreateUser(ctx, domain.UserAccount{
		Username:     strings.ToLower(strings.TrimSpace(username)),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

func (a *AuthManager) Login(ctx context.Context, username string, password string) (*domain.LoginResponse, error) {
	user, err := a.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		// Burn a comparison anyway so the miss is not observably faster.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := a.issueToken(user)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResponse{
		OK:          true,
		Username:    user.Username,
		Role:        user.Role,
		AccessToken: token,
		ExpiresAt:   expires.UTC().Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) issueToken(user *domain.UserAccount) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.tokenTTL)
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
		},
		Role: user.Role,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

// ParseToken verifies a bearer token and returns the actor it encodes.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims accessClaims
	token, err := jwtlib.ParseWithClaims(raw, &claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidCredentials
	}
	if claims.Subject == "" || claims.Role == "" {
		return domain.Actor{}, ErrInvalidCredentials
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.UserInfo, error) {
	users, err := a.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserInfo, 0, len(users))
	for _, u := range users {
		out = append(out, domain.UserInfo{Username: u.Username, Role: u.Role, Active: u.Active})
	}
	return out, nil
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (*domain.UserInfo, error) {
	role := req.Role
	if role == "" {
		role = domain.RoleTeller
	}
	if role != domain.RoleAdmin && role != domain.RoleTeller {
		return nil, fmt.Errorf("role must be %q or %q: %w", domain.RoleAdmin, domain.RoleTeller, store.ErrInvalidInput)
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", store.ErrInvalidInput)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user, err := a.repo.CreateUser(ctx, domain.UserAccount{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return nil, err
	}
	return &domain.UserInfo{Username: user.Username, Role: user.Role, Active: user.Active}, nil
}

func (a *AuthManager) UpdateUser(ctx context.Context, req domain.UserUpdateRequest) (*domain.UserInfo, error) {
	user, err := a.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	if req.Role != nil {
		if *req.Role != domain.RoleAdmin && *req.Role != domain.RoleTeller {
			return nil, fmt.Errorf("role must be %q or %q: %w", domain.RoleAdmin, domain.RoleTeller, store.ErrInvalidInput)
		}
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Password != nil {
		if *req.Password == "" {
			return nil, fmt.Errorf("password must not be empty: %w", store.ErrInvalidInput)
		}
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := a.repo.UpdateUser(ctx, *user); err != nil {
		return nil, err
	}
	return &domain.UserInfo{Username: user.Username, Role: user.Role, Active: user.Active}, nil
}

func (a *AuthManager) DeleteUser(ctx context.Context, username string) error {
	return a.repo.DeleteUser(ctx, username)
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required: %w", store.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// attemptLimiter throttles login attempts per client key over a sliding
// window.
type attemptLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	attempts map[string][]time.Time
	now      func() time.Time
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		window:   window,
		limit:    limit,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *attemptLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.attempts[key] = kept
		return false
	}
	l.attempts[key] = append(kept, now)
	return true
}
