package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
)

type countingRenewer struct {
	calls int32
	grant Grant
	err   error
}

func (r *countingRenewer) Refresh(_ context.Context, _ string) (Grant, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return Grant{}, r.err
	}
	return r.grant, nil
}

func testKey(fill byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = fill
	}
	return key
}

func newTestVault(t *testing.T, key []byte, renewer Renewer, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:vault_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Credential{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Key:      key,
		Provider: "linkedin",
		Renewer:  renewer,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to construct vault: %v", err)
	}
	return service, db
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(1)
	sealed, err := seal(key, "access-secret-value")
	if err != nil {
		t.Fatalf("unexpected seal error: %v", err)
	}
	if sealed == "access-secret-value" {
		t.Fatalf("sealed value must not equal plaintext")
	}
	plaintext, err := open(key, sealed)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if plaintext != "access-secret-value" {
		t.Fatalf("roundtrip mismatch: got %q", plaintext)
	}
}

func TestOpenRejectsForeignKey(t *testing.T) {
	sealed, err := seal(testKey(1), "secret")
	if err != nil {
		t.Fatalf("unexpected seal error: %v", err)
	}
	if _, err := open(testKey(2), sealed); err == nil {
		t.Fatalf("expected decrypt failure under a different key")
	}
}

func TestAccessSecretFastPath(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	renewer := &countingRenewer{}
	service, _ := newTestVault(t, testKey(1), renewer, func() time.Time { return now })

	grant := Grant{
		AccessSecret:  "token-a",
		RefreshSecret: "refresh-a",
		ExpiresIn:     3600,
		Scope:         "openid w_member_social",
	}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	secret, err := service.AccessSecret(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "token-a" {
		t.Fatalf("expected stored secret, got %q", secret)
	}
	if atomic.LoadInt32(&renewer.calls) != 0 {
		t.Fatalf("fast path must not call the provider")
	}
}

func TestAccessSecretRenewsWithinMargin(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	renewer := &countingRenewer{grant: Grant{
		AccessSecret:  "token-b",
		RefreshSecret: "refresh-b",
		ExpiresIn:     3600,
	}}
	service, _ := newTestVault(t, testKey(1), renewer, func() time.Time { return now })

	// Expires in two minutes, inside the five-minute margin.
	grant := Grant{AccessSecret: "token-a", RefreshSecret: "refresh-a", ExpiresIn: 120}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	secret, err := service.AccessSecret(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "token-b" {
		t.Fatalf("expected renewed secret, got %q", secret)
	}
	if got := atomic.LoadInt32(&renewer.calls); got != 1 {
		t.Fatalf("expected one renewal call, got %d", got)
	}
}

func TestConcurrentRenewalCallsProviderOnce(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	renewer := &countingRenewer{grant: Grant{
		AccessSecret:  "token-fresh",
		RefreshSecret: "refresh-fresh",
		ExpiresIn:     3600,
	}}
	service, _ := newTestVault(t, testKey(1), renewer, func() time.Time { return now })

	grant := Grant{AccessSecret: "token-old", RefreshSecret: "refresh-old", ExpiresIn: 60}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secret, err := service.AccessSecret(context.Background())
			if err != nil {
				errCh <- err
				return
			}
			if secret != "token-fresh" {
				errCh <- fmt.Errorf("unexpected secret %q", secret)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent caller failed: %v", err)
	}

	if got := atomic.LoadInt32(&renewer.calls); got != 1 {
		t.Fatalf("expected exactly one provider call, got %d", got)
	}
}

func TestAccessSecretExpiredRefreshRequiresReauth(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	renewer := &countingRenewer{}
	service, _ := newTestVault(t, testKey(1), renewer, func() time.Time { return now })

	grant := Grant{
		AccessSecret:     "token-a",
		RefreshSecret:    "refresh-a",
		ExpiresIn:        60,
		RefreshExpiresIn: 1,
	}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	// Move past both expiries.
	nowLater := now.Add(2 * time.Hour)
	service.clock = func() time.Time { return nowLater }

	_, err := service.AccessSecret(context.Background())
	if !errors.Is(err, apperr.ErrNotConnected) {
		t.Fatalf("expected not-connected error, got %v", err)
	}
	if atomic.LoadInt32(&renewer.calls) != 0 {
		t.Fatalf("expired refresh secret must not reach the provider")
	}
}

func TestAccessSecretRechecksClockUnderLock(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	renewer := &countingRenewer{grant: Grant{AccessSecret: "token-b", ExpiresIn: 3600}}
	// Store reads the clock once, AccessSecret reads it before and
	// after taking the renewal lock. The refresh secret expires
	// between the two AccessSecret reads.
	times := []time.Time{base, base.Add(time.Minute), base.Add(10 * time.Minute)}
	call := 0
	clock := func() time.Time {
		if call < len(times) {
			call++
			return times[call-1]
		}
		return times[len(times)-1]
	}
	service, _ := newTestVault(t, testKey(1), renewer, clock)

	grant := Grant{
		AccessSecret:     "token-a",
		RefreshSecret:    "refresh-a",
		ExpiresIn:        60,
		RefreshExpiresIn: 300,
	}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	_, err := service.AccessSecret(context.Background())
	if !errors.Is(err, apperr.ErrNotConnected) {
		t.Fatalf("expected not-connected error, got %v", err)
	}
	if atomic.LoadInt32(&renewer.calls) != 0 {
		t.Fatalf("a refresh secret expired during the lock wait must not reach the provider")
	}
}

func TestRotatedKeyForgetsCredential(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	service, db := newTestVault(t, testKey(1), nil, func() time.Time { return now })

	grant := Grant{AccessSecret: "token-a", RefreshSecret: "refresh-a", ExpiresIn: 3600}
	if err := service.Store(context.Background(), grant, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	// Simulate a key rotation.
	service.key = testKey(9)

	_, err := service.AccessSecret(context.Background())
	if !errors.Is(err, apperr.ErrNotConnected) {
		t.Fatalf("expected not-connected error, got %v", err)
	}

	var count int64
	if err := db.Model(&Credential{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count credentials: %v", err)
	}
	if count != 0 {
		t.Fatalf("unreadable credential should have been deleted, %d rows remain", count)
	}
}

func TestCurrentStatusReportsScopesAndFlags(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	service, _ := newTestVault(t, testKey(1), nil, func() time.Time { return now })

	status, err := service.CurrentStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Connected {
		t.Fatalf("expected disconnected status before any store")
	}

	memberID := "member-42"
	grant := Grant{
		AccessSecret:     "token-a",
		RefreshSecret:    "refresh-a",
		ExpiresIn:        3600,
		RefreshExpiresIn: int64((20 * 24 * time.Hour) / time.Second),
		Scope:            "openid w_member_social",
	}
	if err := service.Store(context.Background(), grant, &memberID); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	status, err = service.CurrentStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Connected {
		t.Fatalf("expected connected status")
	}
	if status.MemberID != "member-42" {
		t.Fatalf("unexpected member id %q", status.MemberID)
	}
	if len(status.Scopes) != 2 || status.Scopes[1] != "w_member_social" {
		t.Fatalf("unexpected scopes %v", status.Scopes)
	}
	if !status.RefreshNearExpiry {
		t.Fatalf("refresh expiring in 20 days should be flagged")
	}
	if status.NeedsReauth {
		t.Fatalf("valid refresh secret should not require re-authorization")
	}
}

func TestStoreAppliesDefaultLifetimes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	service, db := newTestVault(t, testKey(1), nil, func() time.Time { return now })

	if err := service.Store(context.Background(), Grant{AccessSecret: "a", RefreshSecret: "r"}, nil); err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	var row Credential
	if err := db.Where("provider = ?", "linkedin").Take(&row).Error; err != nil {
		t.Fatalf("failed to load credential: %v", err)
	}
	if got := row.AccessExpiresAt.Sub(now); got != defaultAccessLifetime {
		t.Fatalf("unexpected access lifetime %v", got)
	}
	if got := row.RefreshExpiresAt.Sub(now); got != defaultRefreshLifetime {
		t.Fatalf("unexpected refresh lifetime %v", got)
	}
}
