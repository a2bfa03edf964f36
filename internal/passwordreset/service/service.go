package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/account/password"
	"github.com/smallbiznis/scanledger/internal/clock"
	"github.com/smallbiznis/scanledger/internal/config"
	obslogger "github.com/smallbiznis/scanledger/internal/observability/logger"
	"github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	"github.com/smallbiznis/scanledger/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secretBytes = 32

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Accounts    accountdomain.Service
	AccountRepo accountdomain.Repository
	Sender      email.Sender
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.ResetConfig
	repo        domain.Repository
	accounts    accountdomain.Service
	accountRepo accountdomain.Repository
	sender      email.Sender
}

func New(p Params) domain.Service {
	cfg := p.Config.Reset
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("passwordreset.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         cfg,
		repo:        p.Repo,
		accounts:    p.Accounts,
		accountRepo: p.AccountRepo,
		sender:      p.Sender,
	}
}

func (s *Service) RequestReset(ctx context.Context, identifier string) error {
	log := obslogger.WithContext(ctx, s.log)

	account, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, accountdomain.ErrAccountNotFound) || errors.Is(err, accountdomain.ErrInvalidEmail) {
			log.Info("password reset requested for unknown account")
			return nil
		}
		return err
	}

	to, err := s.accounts.ActiveVerifiedEmail(ctx, account.ID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrNoVerifiedEmail) {
			log.Info("password reset requested without verified email", zap.String("account_id", account.ID.String()))
			return nil
		}
		return err
	}

	raw, _, err := s.Issue(ctx, account.ID)
	if err != nil {
		return err
	}

	body, err := email.Render(email.TemplatePasswordReset, map[string]any{
		"Username":   account.Username,
		"Link":       s.resetLink(raw),
		"TTLMinutes": int(s.cfg.TokenTTL / time.Minute),
	})
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, email.Message{
		To:       []string{to},
		Subject:  "Reset your password",
		HTMLBody: body,
	}); err != nil {
		// The caller always gets the same answer; the user can ask again.
		log.Warn("password reset email failed", zap.String("account_id", account.ID.String()), zap.Error(err))
	}
	return nil
}

func (s *Service) Issue(ctx context.Context, accountID snowflake.ID) (string, time.Time, error) {
	raw, err := password.NewSecret(secretBytes)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.clock.Now()
	token := &domain.ResetToken{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		TokenHash: password.Digest(raw),
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InvalidateForAccount(ctx, tx, accountID, now); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, token)
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, token.ExpiresAt, nil
}

func (s *Service) Reset(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.ErrInvalidToken
	}
	if err := password.Validate(newPassword); err != nil {
		return err
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	digest := password.Digest(rawToken)
	now := s.clock.Now()

	var accountID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.repo.FindByHash(ctx, tx, digest)
		if err != nil {
			return err
		}
		if token == nil || !token.Valid(now) {
			return domain.ErrInvalidToken
		}
		consumed, err := s.repo.Consume(ctx, tx, digest, now)
		if err != nil {
			return err
		}
		if !consumed {
			return domain.ErrInvalidToken
		}
		accountID = token.AccountID
		return s.accountRepo.UpdatePassword(ctx, tx, token.AccountID, hash, now)
	})
	if err != nil {
		return err
	}

	obslogger.WithContext(ctx, s.log).Info("password reset", zap.String("account_id", accountID.String()))
	return nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*accountdomain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, accountdomain.ErrAccountNotFound
	}
	if strings.Contains(identifier, "@") {
		return s.accounts.FindByVerifiedEmail(ctx, identifier)
	}
	return s.accounts.GetByUsername(ctx, identifier)
}

func (s *Service) resetLink(raw string) string {
	return s.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(raw)
}
