package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/signer"
)

// Cookie names for the handshake state and the action nonces. All are
// HttpOnly Lax and live exactly as long as their token verifies.
const (
	cookieOAuthState     = "lp_oauth_state"
	cookieOAuthStateSig  = "lp_oauth_state_sig"
	cookieDisconnectOnce = "lp_disconnect_nonce"
	cookiePublishOnce    = "lp_publish_nonce"
)

var cookieMaxAge = int(signer.TokenTTL / time.Second)

func setStateCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", false, true)
}

func clearStateCookie(c *gin.Context, name string) {
	setStateCookie(c, name, "", -1)
}

// handleAuthorize starts the authorization handshake: a fresh signed
// state goes into cookies and the browser is sent to the provider.
func (h *httpHandler) handleAuthorize(c *gin.Context) {
	state, sig, err := h.signer.Issue(signer.PurposeAuthorize)
	if err != nil {
		h.writeError(c, err)
		return
	}

	setStateCookie(c, cookieOAuthState, state, cookieMaxAge)
	setStateCookie(c, cookieOAuthStateSig, sig, cookieMaxAge)
	c.Redirect(http.StatusTemporaryRedirect, h.provider.AuthCodeURL(state))
}

// handleCallback completes the handshake. The state echoed by the
// provider must equal the cookie value and its signature must verify
// before the code is exchanged. The member id is fetched before the
// grant is stored so a stored credential always knows who it is for.
func (h *httpHandler) handleCallback(c *gin.Context) {
	if providerError := c.Query("error"); providerError != "" {
		clearStateCookie(c, cookieOAuthState)
		clearStateCookie(c, cookieOAuthStateSig)
		c.Redirect(http.StatusSeeOther, "/?connected=error&reason="+url.QueryEscape(providerError))
		return
	}

	echoedState := c.Query("state")
	cookieState, _ := c.Cookie(cookieOAuthState)
	cookieSig, _ := c.Cookie(cookieOAuthStateSig)
	if echoedState == "" || echoedState != cookieState ||
		!h.signer.Verify(signer.PurposeAuthorize, echoedState, cookieSig) {
		h.writeError(c, apperr.Forgery("authorization state did not verify"))
		return
	}

	code := c.Query("code")
	if strings.TrimSpace(code) == "" {
		h.writeError(c, apperr.Validation("authorization code is missing"))
		return
	}

	grant, err := h.provider.Exchange(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err)
		return
	}

	memberID, err := h.provider.MemberID(c.Request.Context(), grant.AccessSecret)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.vault.Store(c.Request.Context(), grant, &memberID); err != nil {
		h.writeError(c, err)
		return
	}

	clearStateCookie(c, cookieOAuthState)
	clearStateCookie(c, cookieOAuthStateSig)
	h.logger.Info("provider connected")
	c.Redirect(http.StatusSeeOther, "/?connected=1")
}

type disconnectPayload struct {
	Signature string `json:"signature" form:"signature"`
}

// handleDisconnect deletes the stored credential. The provider offers
// no remote revocation, so local deletion is the whole operation.
func (h *httpHandler) handleDisconnect(c *gin.Context) {
	var payload disconnectPayload
	if err := c.ShouldBind(&payload); err != nil {
		h.writeError(c, apperr.Validation("invalid disconnect request"))
		return
	}

	nonce, _ := c.Cookie(cookieDisconnectOnce)
	if nonce == "" || !h.signer.Verify(signer.PurposeDisconnect, nonce, payload.Signature) {
		h.writeError(c, apperr.Forgery("disconnect token did not verify"))
		return
	}

	if err := h.vault.Revoke(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}

	clearStateCookie(c, cookieDisconnectOnce)
	h.logger.Info("provider disconnected")
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

type authStatusPayload struct {
	Connected         bool     `json:"connected"`
	MemberID          string   `json:"member_id,omitempty"`
	Scopes            []string `json:"scopes,omitempty"`
	AccessExpiresAt   string   `json:"access_expires_at,omitempty"`
	RefreshExpiresAt  string   `json:"refresh_expires_at,omitempty"`
	RefreshNearExpiry bool     `json:"refresh_near_expiry"`
	NeedsReauth       bool     `json:"needs_reauth"`
}

func (h *httpHandler) handleAuthStatus(c *gin.Context) {
	status, err := h.vault.CurrentStatus(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	payload := authStatusPayload{
		Connected:         status.Connected,
		MemberID:          status.MemberID,
		Scopes:            status.Scopes,
		RefreshNearExpiry: status.RefreshNearExpiry,
		NeedsReauth:       status.NeedsReauth,
	}
	if status.Connected {
		payload.AccessExpiresAt = status.AccessExpiresAt.UTC().Format(time.RFC3339)
		payload.RefreshExpiresAt = status.RefreshExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, payload)
}

type composeTokensPayload struct {
	PublishSignature    string `json:"publish_signature"`
	DisconnectSignature string `json:"disconnect_signature"`
	ExpiresInSeconds    int    `json:"expires_in_seconds"`
}

// handleComposeTokens hands the UI what it needs to submit protected
// actions: nonce cookies plus the matching signatures. The signature
// alone is useless without the cookie the browser holds.
func (h *httpHandler) handleComposeTokens(c *gin.Context) {
	publishNonce, publishSig, err := h.signer.Issue(signer.PurposePublish)
	if err != nil {
		h.writeError(c, err)
		return
	}
	disconnectNonce, disconnectSig, err := h.signer.Issue(signer.PurposeDisconnect)
	if err != nil {
		h.writeError(c, err)
		return
	}

	setStateCookie(c, cookiePublishOnce, publishNonce, cookieMaxAge)
	setStateCookie(c, cookieDisconnectOnce, disconnectNonce, cookieMaxAge)
	c.JSON(http.StatusOK, composeTokensPayload{
		PublishSignature:    publishSig,
		DisconnectSignature: disconnectSig,
		ExpiresInSeconds:    cookieMaxAge,
	})
}
