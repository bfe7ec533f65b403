package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/content"
)

const (
	postsURL    = "https://api.linkedin.com/rest/posts"
	ugcPostsURL = "https://api.linkedin.com/v2/ugcPosts"
	userinfoURL = "https://api.linkedin.com/v2/userinfo"

	publishCallTimeout = 15 * time.Second

	// MaxPostLength is the provider's post character ceiling.
	MaxPostLength = 3000
)

// PublishResult is the provider's answer to a successful publish.
type PublishResult struct {
	ExternalID content.ExternalID
	URN        string
	PostURL    string
}

// Publish delivers a text-only post. The primary Posts endpoint is
// tried first; a 403 there falls back to the legacy UGC endpoint with
// its payload shape. This is endpoint selection, not a retry loop: no
// other failure is retried.
func (c *Client) Publish(ctx context.Context, accessSecret, authorURN, text, visibility string) (PublishResult, error) {
	ctx, cancel := context.WithTimeout(ctx, publishCallTimeout)
	defer cancel()

	attempts := []struct {
		url     string
		payload any
	}{
		{postsURL, restPayload(authorURN, text, visibility)},
		{ugcPostsURL, ugcPayload(authorURN, text, visibility)},
	}

	for i, attempt := range attempts {
		result, status, err := c.postJSON(ctx, attempt.url, accessSecret, attempt.payload)
		if err != nil {
			return PublishResult{}, err
		}
		if status == http.StatusForbidden && i == 0 {
			c.logger.Info("primary posts endpoint denied access, falling back to legacy endpoint")
			continue
		}
		if status != 0 {
			c.logger.Error("publish call failed", zap.Int("status", status))
			return PublishResult{}, apperr.Transport(fmt.Sprintf("provider returned status %d", status))
		}
		return result, nil
	}

	return PublishResult{}, apperr.Transport("provider denied publish access on both endpoints")
}

// postJSON performs one publish attempt. A zero returned status means
// success; a non-zero status is a non-retryable provider rejection the
// caller decides on. Rate limiting and network failures return
// immediately as typed errors.
func (c *Client) postJSON(ctx context.Context, url, accessSecret string, payload any) (PublishResult, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return PublishResult{}, 0, apperr.Transport("failed to encode publish payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PublishResult{}, 0, apperr.Transport("failed to build publish request")
	}
	req.Header.Set("Authorization", "Bearer "+accessSecret)
	req.Header.Set("LinkedIn-Version", c.apiVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.logger.Error("publish call timed out")
			return PublishResult{}, 0, apperr.Transport("publish call timed out")
		}
		c.logger.Error("publish call failed: network error")
		return PublishResult{}, 0, apperr.Transport("network error while publishing")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	c.logRateLimits(resp)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return PublishResult{}, 0, apperr.RateLimited("provider rate limit reached, try again shortly", retryAfter)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PublishResult{}, resp.StatusCode, nil
	}

	urn := resp.Header.Get("x-restli-id")
	if urn == "" {
		c.logger.Error("publish response missing x-restli-id header")
		return PublishResult{}, 0, apperr.Transport("post was created but the provider did not return an identifier")
	}
	externalID, ok := content.ParseURN(urn)
	if !ok {
		c.logger.Warn("unrecognised identifier format in publish response")
		return PublishResult{}, 0, apperr.Transport("provider returned an unrecognised post identifier")
	}

	return PublishResult{
		ExternalID: externalID,
		URN:        urn,
		PostURL:    fmt.Sprintf("https://www.linkedin.com/feed/update/%s/", urn),
	}, 0, nil
}

// MemberID fetches the authenticated member identifier (the userinfo
// "sub" claim) used to build the author URN.
func (c *Client) MemberID(ctx context.Context, accessSecret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return "", apperr.Transport("failed to build userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Transport("network error during userinfo call")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Transport(fmt.Sprintf("userinfo call returned status %d", resp.StatusCode))
	}

	var payload struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Sub == "" {
		return "", apperr.Transport("userinfo response missing member identifier")
	}
	return payload.Sub, nil
}

func (c *Client) logRateLimits(resp *http.Response) {
	limit := resp.Header.Get("X-RateLimit-Limit")
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if limit != "" || remaining != "" {
		c.logger.Info("provider rate limits",
			zap.String("remaining", remaining),
			zap.String("limit", limit),
		)
	}
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func restPayload(authorURN, text, visibility string) map[string]any {
	return map[string]any{
		"author":     authorURN,
		"commentary": text,
		"visibility": visibility,
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
}

func ugcPayload(authorURN, text, visibility string) map[string]any {
	ugcVisibility := "CONNECTIONS_ONLY"
	if visibility == "PUBLIC" {
		ugcVisibility = "PUBLIC"
	}
	return map[string]any{
		"author":         authorURN,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]any{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": ugcVisibility,
		},
	}
}
