// Package vault keeps the one delegated-access credential per provider
// encrypted at rest and hands out valid bearer secrets, renewing them
// without duplicate provider calls. Decryption failure after a key
// rotation is indistinguishable from never having connected.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
)

const (
	defaultAccessLifetime  = 60 * 24 * time.Hour
	defaultRefreshLifetime = 365 * 24 * time.Hour

	// expiryMargin is the safety window: an access secret expiring
	// within it is treated as already expired.
	expiryMargin = 5 * time.Minute

	// refreshWarnWindow flags the refresh secret as near expiry.
	refreshWarnWindow = 30 * 24 * time.Hour
)

var (
	errMissingDatabase = errors.New("vault: database handle is required")
	errMissingKey      = fmt.Errorf("vault: encryption key must be %d bytes", KeySize)
	errMissingProvider = errors.New("vault: provider name is required")
)

// Grant is the provider's renewal response: both secrets and their
// stated lifetimes in seconds. Zero lifetimes fall back to the
// provider's documented defaults.
type Grant struct {
	AccessSecret     string
	RefreshSecret    string
	ExpiresIn        int64
	RefreshExpiresIn int64
	Scope            string
}

// Renewer exchanges a refresh secret for a fresh grant.
type Renewer interface {
	Refresh(ctx context.Context, refreshSecret string) (Grant, error)
}

// Status reports the current connection state without exposing secrets.
type Status struct {
	Connected         bool
	AccessExpiresAt   time.Time
	RefreshExpiresAt  time.Time
	Scopes            []string
	MemberID          string
	RefreshNearExpiry bool
	NeedsReauth       bool
}

// ServiceConfig configures the vault.
type ServiceConfig struct {
	Database *gorm.DB
	Key      []byte
	Provider string
	Renewer  Renewer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the credential vault. A single mutex serializes renewals
// so concurrent callers observing an expired secret trigger exactly one
// provider call.
type Service struct {
	db       *gorm.DB
	key      []byte
	provider string
	renewer  Renewer
	clock    func() time.Time
	logger   *zap.Logger

	renewMu sync.Mutex
}

// NewService validates the configuration and returns a vault.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if len(cfg.Key) != KeySize {
		return nil, errMissingKey
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, errMissingProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		key:      cfg.Key,
		provider: cfg.Provider,
		renewer:  cfg.Renewer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Store seals both secrets from a grant and upserts the single provider
// row. Expiries are computed from the provider-stated lifetimes. A nil
// memberID preserves any previously stored value.
func (s *Service) Store(ctx context.Context, grant Grant, memberID *string) error {
	now := s.clock().UTC()

	accessLifetime := defaultAccessLifetime
	if grant.ExpiresIn > 0 {
		accessLifetime = time.Duration(grant.ExpiresIn) * time.Second
	}
	refreshLifetime := defaultRefreshLifetime
	if grant.RefreshExpiresIn > 0 {
		refreshLifetime = time.Duration(grant.RefreshExpiresIn) * time.Second
	}

	sealedAccess, err := seal(s.key, grant.AccessSecret)
	if err != nil {
		return apperr.Integrity(err)
	}
	sealedRefresh, err := seal(s.key, grant.RefreshSecret)
	if err != nil {
		return apperr.Integrity(err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Credential
		err := tx.Where("provider = ?", s.provider).Take(&existing).Error
		switch {
		case err == nil:
			existing.AccessSecretSealed = sealedAccess
			existing.RefreshSecretSealed = sealedRefresh
			existing.AccessExpiresAt = now.Add(accessLifetime)
			existing.RefreshExpiresAt = now.Add(refreshLifetime)
			existing.Scopes = grant.Scope
			if memberID != nil {
				existing.MemberID = memberID
			}
			return tx.Save(&existing).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := Credential{
				Provider:            s.provider,
				AccessSecretSealed:  sealedAccess,
				RefreshSecretSealed: sealedRefresh,
				AccessExpiresAt:     now.Add(accessLifetime),
				RefreshExpiresAt:    now.Add(refreshLifetime),
				Scopes:              grant.Scope,
				MemberID:            memberID,
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
}

// AccessSecret returns a decrypted bearer secret valid beyond the
// safety margin, renewing through the provider when necessary. It
// returns apperr.ErrNotConnected when no usable credential exists,
// including after a key rotation or an expired refresh secret.
func (s *Service) AccessSecret(ctx context.Context) (string, error) {
	row, err := s.load(ctx)
	if err != nil {
		return "", err
	}

	now := s.clock().UTC()

	// Fast path: still valid beyond the margin.
	if row.AccessExpiresAt.After(now.Add(expiryMargin)) {
		return s.openOrForget(ctx, row.AccessSecretSealed)
	}

	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	// Re-read under the lock: another caller may have already renewed
	// while we waited, and a second provider call would be redundant.
	// The clock is re-read too; the lock wait can be long.
	row, err = s.load(ctx)
	if err != nil {
		return "", err
	}
	now = s.clock().UTC()
	if row.AccessExpiresAt.After(now.Add(expiryMargin)) {
		return s.openOrForget(ctx, row.AccessSecretSealed)
	}

	if !row.RefreshExpiresAt.After(now) {
		s.logger.Warn("refresh secret expired, re-authorization required")
		return "", apperr.NotConnected("connection expired, please re-authorize")
	}

	if s.renewer == nil {
		return "", apperr.NotConnected("credential renewal is not configured")
	}

	refreshSecret, err := s.openOrForget(ctx, row.RefreshSecretSealed)
	if err != nil {
		return "", err
	}

	grant, err := s.renewer.Refresh(ctx, refreshSecret)
	if err != nil {
		s.logger.Error("credential renewal failed", zap.Error(err))
		return "", apperr.NotConnected("access secret unavailable, please re-authorize")
	}

	if err := s.Store(ctx, grant, nil); err != nil {
		return "", err
	}
	s.logger.Info("credential renewed")
	return grant.AccessSecret, nil
}

// Revoke deletes the provider row. There is no remote revocation call
// on this provider; the secret ages out on its side.
func (s *Service) Revoke(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("provider = ?", s.provider).
		Delete(&Credential{}).Error
}

// CurrentStatus reports connection state, expiries, scopes, and the
// re-authorization flags.
func (s *Service) CurrentStatus(ctx context.Context) (Status, error) {
	var row Credential
	err := s.db.WithContext(ctx).Where("provider = ?", s.provider).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	// Confirm the key still opens the stored secret; a rotated key
	// means the credential is unusable and is forgotten.
	if _, openErr := open(s.key, row.AccessSecretSealed); openErr != nil {
		s.forget(ctx)
		return Status{NeedsReauth: true}, nil
	}

	now := s.clock().UTC()
	status := Status{
		Connected:         true,
		AccessExpiresAt:   row.AccessExpiresAt,
		RefreshExpiresAt:  row.RefreshExpiresAt,
		RefreshNearExpiry: row.RefreshExpiresAt.Before(now.Add(refreshWarnWindow)),
		NeedsReauth:       !row.RefreshExpiresAt.After(now),
	}
	if row.Scopes != "" {
		status.Scopes = strings.Fields(row.Scopes)
	}
	if row.MemberID != nil {
		status.MemberID = *row.MemberID
	}
	return status, nil
}

func (s *Service) load(ctx context.Context) (Credential, error) {
	var row Credential
	err := s.db.WithContext(ctx).Where("provider = ?", s.provider).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, apperr.NotConnected("not connected")
	}
	if err != nil {
		return Credential{}, err
	}
	return row, nil
}

// openOrForget decrypts a sealed secret. On failure the stored
// credential is deleted: a rotated key makes the row permanently
// unusable and keeping it would wedge every later call.
func (s *Service) openOrForget(ctx context.Context, sealed string) (string, error) {
	plaintext, err := open(s.key, sealed)
	if err != nil {
		s.logger.Warn("stored secret failed to decrypt, treating as not connected")
		s.forget(ctx)
		return "", apperr.NotConnected("stored credential is unreadable, please re-authorize")
	}
	return plaintext, nil
}

func (s *Service) forget(ctx context.Context) {
	if err := s.Revoke(ctx); err != nil {
		s.logger.Warn("failed to delete unreadable credential", zap.Error(err))
	}
}
