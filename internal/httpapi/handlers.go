// Package httpapi exposes the platform over HTTP. Handlers stay thin:
// parse/validate input, call internal services, map errors to status codes.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vcall-platform/internal/auth"
	"vcall-platform/internal/config"
	"vcall-platform/internal/media"
	"vcall-platform/internal/recording"
	"vcall-platform/internal/segment"
	"vcall-platform/internal/session"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Sessions   *session.Service
	Recordings *recording.Service
	Segments   *segment.Store
	Cfg        config.Config
}

var allowedChunkMIME = map[string]bool{
	"video/webm":               true,
	"application/octet-stream": true,
}

// --- Sessions ---

type createSessionRequest struct {
	ProjectName      string `json:"project_name"`
	ApplicationID    string `json:"application_id"`
	KYCApplicationID string `json:"kyc_application_id"`
	CustomerName     string `json:"customer_name"`
	CustomerEmail    string `json:"customer_email"`

	// ExpiryMinutes overrides the default session window, clamped server-side.
	ExpiryMinutes int `json:"expiry_minutes"`
}

func (h Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	agentID, _ := auth.AgentID(c.Request.Context())

	sess, err := h.Sessions.Create(c.Request.Context(), session.CreateRequest{
		ProjectName:      req.ProjectName,
		AgentID:          agentID,
		ApplicationID:    req.ApplicationID,
		KYCApplicationID: req.KYCApplicationID,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		TTL:              time.Duration(req.ExpiryMinutes) * time.Minute,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      sess.Token,
		"join_url":   h.Cfg.JoinURL(sess.Token),
		"expires_at": sess.ExpiresAt,
		"session":    sess,
	})
}

// CreateSelfSession issues a session for a customer-initiated recording, with
// no agent on the other side. Same lifecycle rules apply.
func (h Handlers) CreateSelfSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Sessions.Create(c.Request.Context(), session.CreateRequest{
		ProjectName:      req.ProjectName,
		ApplicationID:    req.ApplicationID,
		KYCApplicationID: req.KYCApplicationID,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		TTL:              time.Duration(req.ExpiryMinutes) * time.Minute,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      sess.Token,
		"join_url":   h.Cfg.JoinURL(sess.Token),
		"expires_at": sess.ExpiresAt,
	})
}

// JoinInfo resolves a token for the join page. Public: the token itself is
// the capability. Expired tokens read as not found.
func (h Handlers) JoinInfo(c *gin.Context) {
	sess, err := h.Sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":               sess.Token,
		"project_name":        sess.ProjectName,
		"customer_name":       sess.CustomerName,
		"expires_at":          sess.ExpiresAt,
		"recording_finalized": sess.RecordingFinalized,
	})
}

// --- Chunk ingest ---

// UploadChunk persists one recording slice. Re-sent sequence numbers
// overwrite (retry-safe); chunks for an already-finalized session are
// acknowledged and dropped so delayed retries cannot corrupt a finished
// recording.
func (h Handlers) UploadChunk(c *gin.Context) {
	sess, err := h.Sessions.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}

	seq, err := strconv.Atoi(c.PostForm("seq"))
	if err != nil || seq < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "seq must be a non-negative integer"})
		return
	}

	if sess.RecordingFinalized {
		c.JSON(http.StatusOK, gin.H{"status": "already_finalized", "stored": false})
		return
	}

	fh, err := c.FormFile("chunk")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "chunk file required"})
		return
	}
	if fh.Size > h.Cfg.Storage.MaxChunkBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "chunk exceeds maximum size",
			"max":   h.Cfg.Storage.MaxChunkBytes,
		})
		return
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && !allowedChunkMIME[ct] {
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported chunk content type"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "chunk read failed"})
		return
	}
	defer f.Close()

	if err := h.Segments.Put(sess.ID, seq, f); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "chunk store failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stored", "seq": seq})
}

// --- Finalize / recordings ---

type finalizeRequest struct {
	// TotalParts is the client's claimed segment count, advisory only.
	TotalParts int `json:"total_parts"`
}

func (h Handlers) Finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Recordings.Finalize(c.Request.Context(), c.Param("token"), req.TotalParts, auth.Bearer(c.Request.Context()))
	if err != nil {
		var mergeErr *media.MergeError
		switch {
		case errors.Is(err, session.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, segment.ErrNoSegments):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no uploaded segments to merge"})
		case errors.As(err, &mergeErr):
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":     "media merge failed",
				"attempts":  mergeErr.Attempts,
				"list_file": mergeErr.ListFile,
			})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "finalize failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"final_path":        res.Artifact.FilePath,
		"public_url":        res.VideoURL,
		"format":            res.Format,
		"parts_count":       res.PartsCount,
		"already_finalized": res.AlreadyFinalized,
	})
}

type fetchRecordingsRequest struct {
	ApplicationID    string `json:"application_id"`
	KYCApplicationID string `json:"kyc_application_id"`
	LatestOnly       bool   `json:"latest_only"`
}

func (h Handlers) FetchRecordings(c *gin.Context) {
	var req fetchRecordingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ref, ok := refFromFields("", req.ApplicationID, req.KYCApplicationID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "exactly one of application_id or kyc_application_id is required",
		})
		return
	}

	details, err := h.Recordings.FetchDetails(c.Request.Context(), ref, req.LatestOnly)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no recordings found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "recording lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": details})
}

type retakeRequest struct {
	Token            string `json:"token"`
	ApplicationID    string `json:"application_id"`
	KYCApplicationID string `json:"kyc_application_id"`
}

// Retake wipes a session's recording so the same token can be used again.
func (h Handlers) Retake(c *gin.Context) {
	var req retakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ref, ok := refFromFields(req.Token, req.ApplicationID, req.KYCApplicationID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "exactly one of token, application_id or kyc_application_id is required",
		})
		return
	}

	sess, err := h.Recordings.Retake(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retake failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":    sess.Token,
		"join_url": h.Cfg.JoinURL(sess.Token),
		"status":   sess.Status,
	})
}

// refFromFields maps three optional request fields onto one tagged lookup
// reference, rejecting the ambiguous cases (none set, more than one set).
func refFromFields(token, appID, kycID string) (session.Ref, bool) {
	set := 0
	var ref session.Ref
	if token != "" {
		set++
		ref = session.ByToken(token)
	}
	if appID != "" {
		set++
		ref = session.ByApplication(appID)
	}
	if kycID != "" {
		set++
		ref = session.ByKYCApplication(kycID)
	}
	if set != 1 {
		return session.Ref{}, false
	}
	return ref, true
}
