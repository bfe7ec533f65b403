// Package server is the HTTP boundary: gin routes over the vault,
// signer, gateway, and ingestion engine. Handlers translate the shared
// error taxonomy to status codes and never echo secret material.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/gateway"
	"github.com/linkport/backend/internal/ingest"
	"github.com/linkport/backend/internal/linkedin"
	"github.com/linkport/backend/internal/signer"
	"github.com/linkport/backend/internal/vault"
)

var (
	errMissingDatabase = errors.New("database dependency required")
	errMissingVault    = errors.New("vault dependency required")
	errMissingSigner   = errors.New("signer dependency required")
	errMissingGateway  = errors.New("gateway dependency required")
	errMissingIngest   = errors.New("ingest dependency required")
	errMissingProvider = errors.New("provider client dependency required")
)

// Dependencies wires the HTTP boundary.
type Dependencies struct {
	Database       *gorm.DB
	Vault          *vault.Service
	Signer         *signer.Signer
	Gateway        *gateway.Service
	Ingest         *ingest.Service
	Provider       *linkedin.Client
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Vault == nil {
		return nil, errMissingVault
	}
	if deps.Signer == nil {
		return nil, errMissingSigner
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}
	if deps.Ingest == nil {
		return nil, errMissingIngest
	}
	if deps.Provider == nil {
		return nil, errMissingProvider
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		db:       deps.Database,
		vault:    deps.Vault,
		signer:   deps.Signer,
		gateway:  deps.Gateway,
		ingest:   deps.Ingest,
		provider: deps.Provider,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	router.GET("/oauth/authorize", handler.handleAuthorize)
	router.GET("/oauth/callback", handler.handleCallback)
	router.POST("/oauth/disconnect", handler.handleDisconnect)

	api := router.Group("/api")
	api.GET("/auth/status", handler.handleAuthStatus)
	api.GET("/compose/tokens", handler.handleComposeTokens)
	api.POST("/posts/publish", handler.handlePublish)
	api.GET("/posts", handler.handleListPosts)
	api.GET("/posts/:id", handler.handleGetPost)
	api.PATCH("/posts/:id", handler.handlePatchPost)
	api.POST("/upload", handler.handleUpload)
	api.POST("/upload/batch", handler.handleUploadBatch)

	return router, nil
}

type httpHandler struct {
	db       *gorm.DB
	vault    *vault.Service
	signer   *signer.Signer
	gateway  *gateway.Service
	ingest   *ingest.Service
	provider *linkedin.Client
	logger   *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the shared error taxonomy onto HTTP status codes.
// Unrecognized errors become an opaque 500; their details go to the
// log, never to the client.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var rateLimited *apperr.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		body := gin.H{"error": rateLimited.Message}
		if rateLimited.RetryAfter > 0 {
			body["retry_after_seconds"] = int64(rateLimited.RetryAfter.Seconds())
		}
		c.JSON(http.StatusTooManyRequests, body)
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotConnected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrCapability), errors.Is(err, apperr.ErrForgery):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
