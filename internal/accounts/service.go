// Package accounts manages dashboard user accounts stored in SQLite.
package accounts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/filedeck/backend/internal/models"
)

// DefaultDeleteTTL is how long a delete confirmation token stays valid.
const DefaultDeleteTTL = 5 * time.Minute

var (
	ErrNotFound          = errors.New("account not found")
	ErrEmailImmutable    = errors.New("email cannot be changed")
	ErrInvalidName       = errors.New("name must be at least 2 characters")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrEmailTaken        = errors.New("email already registered")
	ErrNoPendingDelete   = errors.New("no pending delete for token")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrInactive          = errors.New("account is inactive")
)

// Hasher hashes and checks passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// NewAccount is the input for Create.
type NewAccount struct {
	Name     string      `json:"name" validate:"required,min=2,max=100"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=admin user"`
}

// Patch holds the fields an admin may change. Nil fields are left alone.
// Email is accepted only so it can be rejected.
type Patch struct {
	Name   *string               `json:"name,omitempty"`
	Email  *string               `json:"email,omitempty"`
	Role   *models.Role          `json:"role,omitempty"`
	Status *models.AccountStatus `json:"status,omitempty"`
}

// DeleteIntent is the first phase of a two-phase delete.
type DeleteIntent struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service is the account store.
type Service struct {
	db       *gorm.DB
	hasher   Hasher
	validate *validator.Validate
	newToken func() string
	ttl      time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]DeleteIntent
}

// Open opens (or creates) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string, hasher Hasher, log zerolog.Logger) (*Service, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Errorf("failed to open accounts database: %w", err)
	}
	if path == ":memory:" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Errorf("failed to get sql.DB: %w", err)
		}
		// each pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, hasher, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, hasher Hasher, log zerolog.Logger) (*Service, error) {
	if err := db.AutoMigrate(&models.UserAccount{}); err != nil {
		return nil, errors.Errorf("failed to migrate accounts: %w", err)
	}
	gen, err := nanoid.Standard(21)
	if err != nil {
		return nil, errors.Errorf("failed to create token generator: %w", err)
	}
	return &Service{
		db:       db,
		hasher:   hasher,
		validate: validator.New(),
		newToken: gen,
		ttl:      DefaultDeleteTTL,
		log:      log.With().Str("component", "accounts").Logger(),
		now:      time.Now,
		pending:  make(map[string]DeleteIntent),
	}, nil
}

// SetDeleteTTL changes the confirmation window for future delete requests.
func (s *Service) SetDeleteTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Close closes the underlying database.
func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns all accounts ordered by name.
func (s *Service) List(ctx context.Context) ([]models.UserAccount, error) {
	var users []models.UserAccount
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&users).Error; err != nil {
		return nil, errors.Errorf("failed to list accounts: %w", err)
	}
	return users, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id string) (models.UserAccount, error) {
	var user models.UserAccount
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserAccount{}, ErrNotFound
		}
		return models.UserAccount{}, errors.Errorf("failed to find account: %w", err)
	}
	return user, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (models.UserAccount, error) {
	var user models.UserAccount
	err := s.db.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserAccount{}, ErrNotFound
		}
		return models.UserAccount{}, errors.Errorf("failed to find account: %w", err)
	}
	return user, nil
}

// Create adds an active account.
func (s *Service) Create(ctx context.Context, in NewAccount) (models.UserAccount, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if len([]rune(in.Name)) < 2 {
		return models.UserAccount{}, ErrInvalidName
	}
	if err := s.validate.Struct(in); err != nil {
		return models.UserAccount{}, errors.Errorf("%w: %s", ErrInvalidAccount, err.Error())
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	if _, err := s.findByEmail(ctx, in.Email); err == nil {
		return models.UserAccount{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return models.UserAccount{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return models.UserAccount{}, errors.Errorf("failed to hash password: %w", err)
	}

	user := models.UserAccount{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		Status:       models.AccountActive,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.UserAccount{}, errors.Errorf("failed to create account: %w", err)
	}
	s.log.Info().Str("user", user.ID).Str("role", string(user.Role)).Msg("account created")
	return user, nil
}

// Update merges the non-nil fields of p into the account.
func (s *Service) Update(ctx context.Context, id string, p Patch) (models.UserAccount, error) {
	if p.Email != nil {
		return models.UserAccount{}, ErrEmailImmutable
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return models.UserAccount{}, err
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if len([]rune(name)) < 2 {
			return models.UserAccount{}, ErrInvalidName
		}
		user.Name = name
	}
	if p.Role != nil {
		if *p.Role != models.RoleAdmin && *p.Role != models.RoleUser {
			return models.UserAccount{}, errors.Errorf("%w: unknown role %q", ErrInvalidAccount, *p.Role)
		}
		user.Role = *p.Role
	}
	if p.Status != nil {
		if *p.Status != models.AccountActive && *p.Status != models.AccountInactive {
			return models.UserAccount{}, errors.Errorf("%w: unknown status %q", ErrInvalidAccount, *p.Status)
		}
		user.Status = *p.Status
	}

	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return models.UserAccount{}, errors.Errorf("failed to update account: %w", err)
	}
	return user, nil
}

// RequestDelete issues a confirmation token. Nothing is removed until
// ConfirmDelete is called with it.
func (s *Service) RequestDelete(ctx context.Context, id string) (DeleteIntent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return DeleteIntent{}, err
	}

	intent := DeleteIntent{
		Token:     s.newToken(),
		UserID:    id,
		ExpiresAt: s.now().Add(s.ttl),
	}

	s.mu.Lock()
	s.pruneLocked()
	s.pending[intent.Token] = intent
	s.mu.Unlock()
	return intent, nil
}

// ConfirmDelete removes the account the token was issued for.
func (s *Service) ConfirmDelete(ctx context.Context, token string) error {
	s.mu.Lock()
	intent, ok := s.pending[token]
	delete(s.pending, token)
	s.mu.Unlock()

	if !ok || !s.now().Before(intent.ExpiresAt) {
		return ErrNoPendingDelete
	}

	result := s.db.WithContext(ctx).Delete(&models.UserAccount{}, "id = ?", intent.UserID)
	if err := result.Error; err != nil {
		return errors.Errorf("failed to delete account: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.log.Info().Str("user", intent.UserID).Msg("account deleted")
	return nil
}

// CancelDelete discards a pending delete.
func (s *Service) CancelDelete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.pending[token]
	delete(s.pending, token)
	if !ok || !s.now().Before(intent.ExpiresAt) {
		return ErrNoPendingDelete
	}
	return nil
}

func (s *Service) pruneLocked() {
	now := s.now()
	for tok, intent := range s.pending {
		if !now.Before(intent.ExpiresAt) {
			delete(s.pending, tok)
		}
	}
}

// Authenticate checks the credentials and records the login time.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.UserAccount, error) {
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.UserAccount{}, ErrInvalidCredential
		}
		return models.UserAccount{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return models.UserAccount{}, ErrInvalidCredential
	}
	if user.Status != models.AccountActive {
		return models.UserAccount{}, ErrInactive
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		return models.UserAccount{}, errors.Errorf("failed to record login: %w", err)
	}
	user.LastLogin = &now
	return user, nil
}

// EnsureAdmin creates the given admin when no admin account exists yet.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, in NewAccount) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.UserAccount{}).
		Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return false, errors.Errorf("failed to count admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	in.Role = models.RoleAdmin
	if _, err := s.Create(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
