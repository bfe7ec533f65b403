package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/content"
	"github.com/linkport/backend/internal/gateway"
)

type publishPayload struct {
	Text       string  `json:"text"`
	Title      string  `json:"title"`
	Visibility string  `json:"visibility"`
	PostID     *uint   `json:"post_id"`
	DraftID    *string `json:"draft_id"`
	SaveOnly   bool    `json:"save_only"`
	Signature  string  `json:"signature"`
}

func (h *httpHandler) handlePublish(c *gin.Context) {
	var payload publishPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, apperr.Validation("invalid publish request"))
		return
	}

	nonce, _ := c.Cookie(cookiePublishOnce)
	outcome, err := h.gateway.Publish(c.Request.Context(), gateway.PublishRequest{
		Text:             payload.Text,
		Title:            payload.Title,
		Visibility:       payload.Visibility,
		PostID:           payload.PostID,
		DraftID:          payload.DraftID,
		SaveOnly:         payload.SaveOnly,
		ForgeryNonce:     nonce,
		ForgerySignature: payload.Signature,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	// A spent nonce never authorizes a second publish.
	if !payload.SaveOnly {
		clearStateCookie(c, cookiePublishOnce)
	}

	status := http.StatusOK
	if outcome.Status == content.StatusPublished {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"post_id":     outcome.PostID,
		"status":      outcome.Status,
		"title":       outcome.Title,
		"external_id": outcome.ExternalID,
		"post_url":    outcome.PostURL,
	})
}

type postPayload struct {
	ID              uint     `json:"id"`
	ExternalID      *string  `json:"external_id,omitempty"`
	PostURL         *string  `json:"post_url,omitempty"`
	DraftID         *string  `json:"draft_id,omitempty"`
	Title           *string  `json:"title,omitempty"`
	Body            *string  `json:"body,omitempty"`
	Status          string   `json:"status"`
	PostDate        string   `json:"post_date"`
	PostHour        *int     `json:"post_hour,omitempty"`
	PostType        *string  `json:"post_type,omitempty"`
	Impressions     int64    `json:"impressions"`
	MembersReached  int64    `json:"members_reached"`
	Reactions       int64    `json:"reactions"`
	Comments        int64    `json:"comments"`
	Shares          int64    `json:"shares"`
	Clicks          int64    `json:"clicks"`
	Saves           int64    `json:"saves"`
	Sends           int64    `json:"sends"`
	Reposts         int64    `json:"reposts"`
	ProfileViews    int64    `json:"profile_views"`
	FollowersGained int64    `json:"followers_gained"`
	EngagementRate  float64  `json:"engagement_rate"`
}

func postToPayload(post content.Post) postPayload {
	return postPayload{
		ID:              post.ID,
		ExternalID:      post.ExternalID,
		PostURL:         post.PostURL,
		DraftID:         post.DraftID,
		Title:           post.Title,
		Body:            post.Body,
		Status:          string(post.Status),
		PostDate:        post.PostDate.Format("2006-01-02"),
		PostHour:        post.PostHour,
		PostType:        post.PostType,
		Impressions:     post.Impressions,
		MembersReached:  post.MembersReached,
		Reactions:       post.Reactions,
		Comments:        post.Comments,
		Shares:          post.Shares,
		Clicks:          post.Clicks,
		Saves:           post.Saves,
		Sends:           post.Sends,
		Reposts:         post.Reposts,
		ProfileViews:    post.ProfileViews,
		FollowersGained: post.FollowersGained,
		EngagementRate:  post.EngagementRate,
	}
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Order("post_date DESC, id DESC")
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var posts []content.Post
	if err := query.Find(&posts).Error; err != nil {
		h.writeError(c, err)
		return
	}

	payloads := make([]postPayload, 0, len(posts))
	for _, post := range posts {
		payloads = append(payloads, postToPayload(post))
	}
	c.JSON(http.StatusOK, gin.H{"posts": payloads})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, ok := h.loadPost(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, postToPayload(post))
}

type patchPostPayload struct {
	Title    *string `json:"title"`
	Body     *string `json:"body"`
	DraftID  *string `json:"draft_id"`
	PostDate *string `json:"post_date"`
	PostType *string `json:"post_type"`
	PostHour *int    `json:"post_hour"`
}

// handlePatchPost corrects editable fields. Authored text can be
// replaced but never cleared, and metric counters are not editable
// through this surface at all.
func (h *httpHandler) handlePatchPost(c *gin.Context) {
	var payload patchPostPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, apperr.Validation("invalid post update"))
		return
	}

	post, ok := h.loadPost(c)
	if !ok {
		return
	}

	if payload.Body != nil {
		if strings.TrimSpace(*payload.Body) == "" {
			h.writeError(c, apperr.Validation("post body cannot be cleared"))
			return
		}
		post.Body = payload.Body
	}
	if payload.Title != nil {
		title := *payload.Title
		if runes := []rune(title); len(runes) > content.TitleLength {
			title = string(runes[:content.TitleLength])
		}
		post.Title = &title
	}
	if payload.DraftID != nil {
		post.DraftID = payload.DraftID
	}
	if payload.PostType != nil {
		post.PostType = payload.PostType
	}
	if payload.PostHour != nil {
		if *payload.PostHour < 0 || *payload.PostHour > 23 {
			h.writeError(c, apperr.Validation("post_hour must be between 0 and 23"))
			return
		}
		post.PostHour = payload.PostHour
	}
	if payload.PostDate != nil {
		parsed, err := time.Parse("2006-01-02", *payload.PostDate)
		if err != nil {
			h.writeError(c, apperr.Validation("post_date must be YYYY-MM-DD"))
			return
		}
		post.PostDate = parsed
	}

	if err := h.db.WithContext(c.Request.Context()).Save(&post).Error; err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, postToPayload(post))
}

func (h *httpHandler) loadPost(c *gin.Context) (content.Post, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.writeError(c, apperr.Validation("post id must be numeric"))
		return content.Post{}, false
	}

	var post content.Post
	err = h.db.WithContext(c.Request.Context()).First(&post, uint(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.writeError(c, apperr.NotFound("post", id))
		return content.Post{}, false
	}
	if err != nil {
		h.writeError(c, err)
		return content.Post{}, false
	}
	return post, true
}
