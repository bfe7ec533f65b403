package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/content"
	"github.com/linkport/backend/internal/gateway"
	"github.com/linkport/backend/internal/ingest"
	"github.com/linkport/backend/internal/linkedin"
	"github.com/linkport/backend/internal/signer"
	"github.com/linkport/backend/internal/vault"
)

type stubPublisher struct {
	calls  int
	result linkedin.PublishResult
}

func (p *stubPublisher) Publish(_ context.Context, _, _, _, _ string) (linkedin.PublishResult, error) {
	p.calls++
	return p.result, nil
}

type testEnv struct {
	handler   http.Handler
	db        *gorm.DB
	publisher *stubPublisher
}

func newTestEnv(t *testing.T, connected bool) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := append(content.AllModels(), &vault.Credential{})
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	key := make([]byte, vault.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	credentialVault, err := vault.NewService(vault.ServiceConfig{
		Database: db,
		Key:      key,
		Provider: "linkedin",
	})
	if err != nil {
		t.Fatalf("failed to construct vault: %v", err)
	}
	if connected {
		memberID := "member-1"
		grant := vault.Grant{
			AccessSecret:  "bearer-token",
			RefreshSecret: "refresh-token",
			ExpiresIn:     3600,
			Scope:         "openid profile w_member_social",
		}
		if err := credentialVault.Store(context.Background(), grant, &memberID); err != nil {
			t.Fatalf("failed to seed credential: %v", err)
		}
	}

	stateSigner, err := signer.New([]byte("server-test-secret"), nil)
	if err != nil {
		t.Fatalf("failed to construct signer: %v", err)
	}

	publisher := &stubPublisher{result: linkedin.PublishResult{
		ExternalID: content.ExternalID{Namespace: content.NamespaceShare, Value: "777"},
		URN:        "urn:li:share:777",
		PostURL:    "https://www.linkedin.com/feed/update/urn:li:share:777/",
	}}

	publishGateway, err := gateway.NewService(gateway.ServiceConfig{
		Database:  db,
		Vault:     credentialVault,
		Publisher: publisher,
		Signer:    stateSigner,
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}

	ingestService, err := ingest.NewService(ingest.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct ingest service: %v", err)
	}

	provider := linkedin.NewClient(linkedin.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/oauth/callback",
		Scopes:       []string{"openid", "profile", "w_member_social"},
	})

	handler, err := NewHTTPHandler(Dependencies{
		Database: db,
		Vault:    credentialVault,
		Signer:   stateSigner,
		Gateway:  publishGateway,
		Ingest:   ingestService,
		Provider: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnv{handler: handler, db: db, publisher: publisher}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func cookieValue(t *testing.T, recorder *httptest.ResponseRecorder, name string) string {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	t.Fatalf("cookie %q not set", name)
	return ""
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("invalid response JSON: %v\nbody: %s", err, recorder.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestAuthorizeSetsStateCookiesAndRedirects(t *testing.T) {
	env := newTestEnv(t, false)
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil))

	if recorder.Code != http.StatusTemporaryRedirect {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	state := cookieValue(t, recorder, cookieOAuthState)
	cookieValue(t, recorder, cookieOAuthStateSig)

	location := recorder.Header().Get("Location")
	if !strings.Contains(location, "linkedin.com") {
		t.Fatalf("redirect must target the provider, got %q", location)
	}
	if !strings.Contains(location, "state=") || state == "" {
		t.Fatalf("redirect must carry the state parameter")
	}
}

func TestCallbackRejectsMismatchedState(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?state=attacker&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: cookieOAuthState, Value: "legit"})
	req.AddCookie(&http.Cookie{Name: cookieOAuthStateSig, Value: "sig"})

	recorder := env.do(t, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for state mismatch, got %d", recorder.Code)
	}
}

func TestAuthStatusDisconnected(t *testing.T) {
	env := newTestEnv(t, false)
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var payload authStatusPayload
	decodeJSON(t, recorder, &payload)
	if payload.Connected {
		t.Fatalf("expected disconnected status")
	}
}

func TestPublishRequiresNonceCookie(t *testing.T) {
	env := newTestEnv(t, true)

	body := `{"text":"hello","signature":"forged"}`
	req := httptest.NewRequest(http.MethodPost, "/api/posts/publish", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := env.do(t, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without the nonce cookie, got %d", recorder.Code)
	}
}

func TestUploadRejectsNonWorkbook(t *testing.T) {
	env := newTestEnv(t, false)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	part.Write([]byte("plain text"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &form)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := env.do(t, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-xlsx upload, got %d", recorder.Code)
	}
}

func TestGetPostNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	recorder := env.do(t, httptest.NewRequest(http.MethodGet, "/api/posts/12345", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestPatchPostCannotClearBody(t *testing.T) {
	env := newTestEnv(t, false)

	body := "keep me"
	post := content.Post{
		Body:     &body,
		Status:   content.StatusDraft,
		PostDate: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}
	if err := env.db.Create(&post).Error; err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	payload := `{"body":"   "}`
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/posts/%d", post.ID), strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := env.do(t, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when clearing the body, got %d", recorder.Code)
	}

	var reloaded content.Post
	if err := env.db.Take(&reloaded, post.ID).Error; err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if reloaded.Body == nil || *reloaded.Body != "keep me" {
		t.Fatalf("authored text must survive a rejected patch")
	}
}

// The full round trip: compose tokens, publish through the gateway
// with a stub provider, then import a per-post export carrying the
// provider identifier and watch the records link up.
func TestPublishThenImportLinksAnalytics(t *testing.T) {
	env := newTestEnv(t, true)

	tokens := env.do(t, httptest.NewRequest(http.MethodGet, "/api/compose/tokens", nil))
	if tokens.Code != http.StatusOK {
		t.Fatalf("compose tokens failed with %d", tokens.Code)
	}
	var tokenPayload composeTokensPayload
	decodeJSON(t, tokens, &tokenPayload)
	nonce := cookieValue(t, tokens, cookiePublishOnce)

	publishBody := fmt.Sprintf(`{"text":"end to end body","title":"E2E","signature":%q}`, tokenPayload.PublishSignature)
	publishReq := httptest.NewRequest(http.MethodPost, "/api/posts/publish", strings.NewReader(publishBody))
	publishReq.Header.Set("Content-Type", "application/json")
	publishReq.AddCookie(&http.Cookie{Name: cookiePublishOnce, Value: nonce})

	published := env.do(t, publishReq)
	if published.Code != http.StatusCreated {
		t.Fatalf("publish failed with %d: %s", published.Code, published.Body.String())
	}
	var publishResponse struct {
		PostID     uint   `json:"post_id"`
		ExternalID string `json:"external_id"`
	}
	decodeJSON(t, published, &publishResponse)
	if publishResponse.ExternalID != "share:777" {
		t.Fatalf("unexpected external id %q", publishResponse.ExternalID)
	}
	if env.publisher.calls != 1 {
		t.Fatalf("expected one provider call, got %d", env.publisher.calls)
	}

	workbook := perPostWorkbook(t, "urn:li:share:777", "500")
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", "analytics.xlsx")
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	if _, err := part.Write(workbook); err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}
	writer.Close()

	uploadReq := httptest.NewRequest(http.MethodPost, "/api/upload", &form)
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())
	uploaded := env.do(t, uploadReq)
	if uploaded.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", uploaded.Code, uploaded.Body.String())
	}

	var post content.Post
	if err := env.db.Take(&post, publishResponse.PostID).Error; err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if post.Status != content.StatusAnalyticsLinked {
		t.Fatalf("expected analytics_linked, got %q", post.Status)
	}
	if post.Impressions != 500 {
		t.Fatalf("impressions = %d, want 500", post.Impressions)
	}
	if post.Body == nil || *post.Body != "end to end body" {
		t.Fatalf("authored text must survive the import: %#v", post.Body)
	}
}

func perPostWorkbook(t *testing.T, postURL, impressions string) []byte {
	t.Helper()

	file := excelize.NewFile()
	if _, err := file.NewSheet("PERFORMANCE"); err != nil {
		t.Fatalf("failed to create sheet: %v", err)
	}
	rows := [][]any{
		{"Post URL", postURL},
		{"Impressions", impressions},
		{"Reactions", "10"},
	}
	for i, row := range rows {
		axis := fmt.Sprintf("A%d", i+1)
		if err := file.SetSheetRow("PERFORMANCE", axis, &row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	if err := file.DeleteSheet("Sheet1"); err != nil {
		t.Fatalf("failed to delete default sheet: %v", err)
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		t.Fatalf("failed to serialize workbook: %v", err)
	}
	return buf.Bytes()
}
