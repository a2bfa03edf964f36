package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/account/password"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	"github.com/smallbiznis/scanledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Usernames start with a letter so they never collide with numeric account ids.
var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{2,63}$`)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Sender email.Sender
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	sender email.Sender
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("account.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		sender: p.Sender,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Account, error) {
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		return nil, domain.ErrInvalidUsername
	}
	if err := password.Validate(req.Password); err != nil {
		return nil, err
	}
	return s.create(ctx, username, req.Password, domain.RoleMember)
}

func (s *Service) create(ctx context.Context, username, plain, role string) (*domain.Account, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := &domain.Account{
		ID:           s.genID.Generate(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUsernameTaken
		}
		return nil, err
	}

	s.log.Info("account registered", zap.String("account_id", account.ID.String()), zap.String("role", role))
	return account, nil
}

func (s *Service) Authenticate(ctx context.Context, username, plain string) (*domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || plain == "" {
		return nil, domain.ErrInvalidCredentials
	}

	account, err := s.repo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return nil, err
	}
	if account == nil || !password.Verify(plain, account.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	if id <= 0 {
		return nil, domain.ErrAccountNotFound
	}
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrAccountNotFound
	}
	account, err := s.repo.FindByUsername(ctx, s.db, username)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) SetPassword(ctx context.Context, id snowflake.ID, plain string) error {
	if err := password.Validate(plain); err != nil {
		return err
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, s.db, id, hash, s.clock.Now())
}

func (s *Service) EnsureAdmin(ctx context.Context, username, plain string) (*domain.Account, error) {
	account, err := s.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		if !usernamePattern.MatchString(username) {
			return nil, domain.ErrInvalidUsername
		}
		if err := password.Validate(plain); err != nil {
			return nil, err
		}
		return s.create(ctx, username, plain, domain.RoleAdmin)
	case err != nil:
		return nil, err
	}

	if account.IsAdmin() {
		return account, nil
	}
	now := s.clock.Now()
	if err := s.repo.UpdateRole(ctx, s.db, account.ID, domain.RoleAdmin, now); err != nil {
		return nil, err
	}
	account.Role = domain.RoleAdmin
	account.UpdatedAt = now
	return account, nil
}

// AddEmail attaches address to the account, or re-issues its code, and
// mails a verification code to it.
func (s *Service) AddEmail(ctx context.Context, accountID snowflake.ID, address string) (*domain.AccountEmail, error) {
	address, err := normalizeEmail(address)
	if err != nil {
		return nil, err
	}
	account, err := s.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindEmail(ctx, s.db, accountID, address)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &domain.AccountEmail{
			ID:               s.genID.Generate(),
			AccountID:        accountID,
			Address:          address,
			VerificationHash: password.Digest(code),
			CreatedAt:        s.clock.Now(),
		}
		if err := s.repo.InsertEmail(ctx, s.db, record); err != nil {
			return nil, err
		}
	} else {
		if err := s.repo.UpdateVerificationHash(ctx, s.db, record.ID, password.Digest(code)); err != nil {
			return nil, err
		}
	}

	body, err := email.Render(email.TemplateVerifyEmail, map[string]any{
		"Username": account.Username,
		"Address":  address,
		"Code":     code,
	})
	if err != nil {
		return nil, err
	}
	if err := s.sender.Send(ctx, email.Message{
		To:       []string{address},
		Subject:  "Verify your email address",
		HTMLBody: body,
	}); err != nil {
		return nil, fmt.Errorf("send verification email: %w", err)
	}
	return record, nil
}

func (s *Service) VerifyEmail(ctx context.Context, accountID snowflake.ID, address, code string) (*domain.AccountEmail, error) {
	address, err := normalizeEmail(address)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidVerificationCode
	}

	record, err := s.repo.FindEmail(ctx, s.db, accountID, address)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrEmailNotFound
	}
	if record.VerificationHash == "" ||
		subtle.ConstantTimeCompare([]byte(record.VerificationHash), []byte(password.Digest(code))) != 1 {
		return nil, domain.ErrInvalidVerificationCode
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeactivateEmails(ctx, tx, accountID); err != nil {
			return err
		}
		return s.repo.ActivateEmail(ctx, tx, record.ID, now)
	})
	if err != nil {
		return nil, err
	}

	if record.VerifiedAt == nil {
		record.VerifiedAt = &now
	}
	record.IsActive = true
	record.VerificationHash = ""
	return record, nil
}

func (s *Service) ListEmails(ctx context.Context, accountID snowflake.ID) ([]domain.AccountEmail, error) {
	return s.repo.ListEmails(ctx, s.db, accountID)
}

func (s *Service) ActiveVerifiedEmail(ctx context.Context, accountID snowflake.ID) (string, error) {
	record, err := s.repo.FindActiveVerifiedEmail(ctx, s.db, accountID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", domain.ErrNoVerifiedEmail
	}
	return record.Address, nil
}

func (s *Service) FindByVerifiedEmail(ctx context.Context, address string) (*domain.Account, error) {
	address, err := normalizeEmail(address)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByVerifiedEmail(ctx, s.db, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil || parsed.Address != raw {
		return "", domain.ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
