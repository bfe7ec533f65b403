// Package gateway publishes authored posts through the provider with
// at-most-once semantics: validation, anti-forgery, capability check,
// fingerprint dedup, then one provider call whose identifier is stamped
// onto the local record.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/content"
	"github.com/linkport/backend/internal/linkedin"
	"github.com/linkport/backend/internal/signer"
	"github.com/linkport/backend/internal/vault"
)

// ScopePublish is the capability required to publish on behalf of the
// connected account.
const ScopePublish = "w_member_social"

var (
	errMissingDatabase  = errors.New("gateway: database handle is required")
	errMissingVault     = errors.New("gateway: vault dependency is required")
	errMissingPublisher = errors.New("gateway: publisher dependency is required")
	errMissingSigner    = errors.New("gateway: signer dependency is required")
)

// Publisher is the provider call the gateway makes.
type Publisher interface {
	Publish(ctx context.Context, accessSecret, authorURN, text, visibility string) (linkedin.PublishResult, error)
}

// TokenVault is the credential surface the gateway consumes.
type TokenVault interface {
	AccessSecret(ctx context.Context) (string, error)
	CurrentStatus(ctx context.Context) (vault.Status, error)
}

// ForgeryVerifier checks anti-forgery tokens.
type ForgeryVerifier interface {
	Verify(purpose signer.Purpose, token, signature string) bool
}

// PublishRequest is one user intent to publish or save.
type PublishRequest struct {
	Text       string
	Title      string
	Visibility string
	PostID     *uint
	DraftID    *string
	SaveOnly   bool

	// ForgeryNonce is the value from the publish nonce cookie;
	// ForgerySignature is the token the form submitted. Neither is
	// required for SaveOnly.
	ForgeryNonce     string
	ForgerySignature string
}

// PublishOutcome reports the stored record after a publish or save.
type PublishOutcome struct {
	PostID     uint
	Status     content.Status
	Title      string
	ExternalID string
	PostURL    string
}

// ServiceConfig configures the gateway.
type ServiceConfig struct {
	Database  *gorm.DB
	Vault     TokenVault
	Publisher Publisher
	Signer    ForgeryVerifier
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service is the publish gateway.
type Service struct {
	db        *gorm.DB
	vault     TokenVault
	publisher Publisher
	signer    ForgeryVerifier
	clock     func() time.Time
	logger    *zap.Logger
	dedup     *dedupCache
}

// NewService validates the configuration and returns a gateway.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Vault == nil {
		return nil, errMissingVault
	}
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	if cfg.Signer == nil {
		return nil, errMissingSigner
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
		db:        cfg.Database,
		vault:     cfg.Vault,
		publisher: cfg.Publisher,
		signer:    cfg.Signer,
		clock:     clock,
		logger:    logger,
		dedup:     newDedupCache(),
	}, nil
}

// Publish runs the full publish flow, or the local save path when the
// request asks for SaveOnly. The check order is fixed: validation,
// save-only shortcut, anti-forgery, capability, dedup, credential,
// provider call, record stamping.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (PublishOutcome, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return PublishOutcome{}, apperr.Validation("post text cannot be empty")
	}
	if len([]rune(text)) > linkedin.MaxPostLength {
		return PublishOutcome{}, apperr.Validation("post text exceeds %d characters (%d)", linkedin.MaxPostLength, len([]rune(text)))
	}

	visibility := req.Visibility
	if visibility != "PUBLIC" && visibility != "CONNECTIONS" {
		visibility = "PUBLIC"
	}

	if req.SaveOnly {
		return s.saveDraft(ctx, req, text)
	}

	if req.ForgerySignature == "" || req.ForgeryNonce == "" {
		return PublishOutcome{}, apperr.Forgery("missing anti-forgery token, reload the compose page and try again")
	}
	if !s.signer.Verify(signer.PurposePublish, req.ForgeryNonce, req.ForgerySignature) {
		return PublishOutcome{}, apperr.Forgery("invalid anti-forgery token")
	}

	status, err := s.vault.CurrentStatus(ctx)
	if err != nil {
		return PublishOutcome{}, err
	}
	if !status.Connected {
		return PublishOutcome{}, apperr.NotConnected("not connected to the provider, connect in settings first")
	}
	if !containsScope(status.Scopes, ScopePublish) {
		return PublishOutcome{}, apperr.Capability("the stored connection cannot publish on your behalf, please re-authorize")
	}
	if status.MemberID == "" {
		return PublishOutcome{}, apperr.Capability("member identity is unknown, please re-authorize")
	}

	fingerprint := contentFingerprint(text)
	if s.dedup.seen(fingerprint, s.clock()) {
		return PublishOutcome{}, apperr.Conflict("duplicate publish detected, wait %d seconds before publishing the same content", int(dedupWindow.Seconds()))
	}

	accessSecret, err := s.vault.AccessSecret(ctx)
	if err != nil {
		return PublishOutcome{}, err
	}

	authorURN := "urn:li:person:" + status.MemberID
	result, err := s.publisher.Publish(ctx, accessSecret, authorURN, text, visibility)
	if err != nil {
		return PublishOutcome{}, err
	}

	outcome, err := s.stampPublished(ctx, req, text, result)
	if err != nil {
		return PublishOutcome{}, err
	}

	s.logger.Info("post published",
		zap.Uint("post_id", outcome.PostID),
		zap.String("external_id", outcome.ExternalID),
	)
	return outcome, nil
}

// saveDraft persists a drafted-locally record without any external
// call and without an anti-forgery requirement.
func (s *Service) saveDraft(ctx context.Context, req PublishRequest, text string) (PublishOutcome, error) {
	title := displayTitle(req.Title, text)
	var outcome PublishOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.PostID != nil {
			var post content.Post
			if err := tx.Take(&post, *req.PostID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("post", *req.PostID)
				}
				return err
			}
			post.Body = &text
			post.Title = &title
			if req.DraftID != nil {
				post.DraftID = req.DraftID
			}
			if post.Status == "" || post.Status == content.StatusDraft {
				post.Status = content.StatusDraft
			}
			post.RecalculateEngagementRate()
			if err := tx.Save(&post).Error; err != nil {
				return err
			}
			outcome = outcomeFrom(post)
			return nil
		}

		draftID := req.DraftID
		if draftID == nil {
			generated := uuid.NewString()
			draftID = &generated
		}
		post := content.Post{
			Title:    &title,
			Body:     &text,
			Status:   content.StatusDraft,
			PostDate: dateOnly(s.clock().UTC()),
			DraftID:  draftID,
		}
		post.RecalculateEngagementRate()
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		outcome = outcomeFrom(post)
		return nil
	})
	if err != nil {
		return PublishOutcome{}, err
	}
	return outcome, nil
}

// stampPublished writes the provider-issued identifier and URL onto the
// local record in one transaction.
func (s *Service) stampPublished(ctx context.Context, req PublishRequest, text string, result linkedin.PublishResult) (PublishOutcome, error) {
	canonical := result.ExternalID.Canonical()
	title := displayTitle(req.Title, text)
	today := dateOnly(s.clock().UTC())
	var outcome PublishOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post content.Post
		if req.PostID != nil {
			if err := tx.Take(&post, *req.PostID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperr.NotFound("post", *req.PostID)
				}
				return err
			}
		}

		post.ExternalID = &canonical
		post.PostURL = &result.PostURL
		post.Body = &text
		post.Title = &title
		post.Status = content.StatusPublished
		post.PostDate = today
		if req.DraftID != nil {
			post.DraftID = req.DraftID
		}
		post.RecalculateEngagementRate()

		if post.ID == 0 {
			if err := tx.Create(&post).Error; err != nil {
				return apperr.Integrity(err)
			}
		} else if err := tx.Save(&post).Error; err != nil {
			return apperr.Integrity(err)
		}
		outcome = outcomeFrom(post)
		return nil
	})
	if err != nil {
		return PublishOutcome{}, err
	}
	return outcome, nil
}

func outcomeFrom(post content.Post) PublishOutcome {
	outcome := PublishOutcome{
		PostID: post.ID,
		Status: post.Status,
	}
	if post.Title != nil {
		outcome.Title = *post.Title
	}
	if post.ExternalID != nil {
		outcome.ExternalID = *post.ExternalID
	}
	if post.PostURL != nil {
		outcome.PostURL = *post.PostURL
	}
	return outcome
}

func displayTitle(title, text string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = text
	}
	runes := []rune(title)
	if len(runes) > content.TitleLength {
		runes = runes[:content.TitleLength]
	}
	return string(runes)
}

func contentFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func containsScope(scopes []string, want string) bool {
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
