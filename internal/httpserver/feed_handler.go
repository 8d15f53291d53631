package httpserver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/color2333/vibingu/internal/errors"
	"github.com/color2333/vibingu/internal/imagestore"
	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/pipeline"
	"github.com/color2333/vibingu/internal/regenerate"
	"github.com/color2333/vibingu/internal/store"
	"github.com/color2333/vibingu/internal/types"
	"github.com/gin-gonic/gin"
)

// FeedHandler implements the `/feed/*` routes of spec.md §6.
type FeedHandler struct {
	Orchestrator Orchestrator
	Regenerator  Regenerator
	Store        FeedStore
	Vector       VectorRemover
	Now          Clock
	UploadRoot   string
}

// Orchestrator is the narrow slice of the ingestion orchestrator the feed
// handler depends on.
type Orchestrator interface {
	Ingest(ctx context.Context, anchor time.Time, req pipeline.IngestRequest) (pipeline.FeedResponse, error)
	IngestStream(ctx context.Context, anchor time.Time, req pipeline.IngestRequest, emit func(pipeline.PhaseEvent)) (pipeline.FeedResponse, error)
}

var _ Orchestrator = (*pipeline.Orchestrator)(nil)

// Regenerator is the narrow slice of the regenerator the feed handler
// depends on.
type Regenerator interface {
	Run(ctx context.Context, recordID string, phases []string) (regenerate.Result, error)
}

var _ Regenerator = (*regenerate.Regenerator)(nil)

// FeedStore is the narrow slice of the life-record repository the feed
// handler needs beyond what the orchestrator/regenerator already own.
type FeedStore interface {
	GetByID(ctx context.Context, id string) (*types.LifeRecord, error)
	ListHistory(ctx context.Context, category *types.Category, limit, offset int) ([]*types.LifeRecord, error)
	SoftDelete(ctx context.Context, id string) error
	SetVisibility(ctx context.Context, id string, isPublic bool) error
}

var _ FeedStore = (*store.LifeRecordRepository)(nil)

// VectorRemover is the narrow slice of the vector store the delete endpoint
// uses for best-effort removal (spec.md §6).
type VectorRemover interface {
	Remove(ctx context.Context, recordID string) error
}

type feedForm struct {
	Text         string `form:"text"`
	CategoryHint string `form:"category_hint"`
	ClientTime   string `form:"client_time"`
}

func (h *FeedHandler) parseRequest(c *gin.Context) (pipeline.IngestRequest, error) {
	var form feedForm
	_ = c.ShouldBind(&form)

	var imageBytes []byte
	if fileHeader, err := c.FormFile("image"); err == nil {
		f, openErr := fileHeader.Open()
		if openErr != nil {
			return pipeline.IngestRequest{}, apperrors.Wrap(apperrors.KindBadInput, "could not read uploaded image", openErr)
		}
		defer f.Close()
		imageBytes, err = io.ReadAll(f)
		if err != nil {
			return pipeline.IngestRequest{}, apperrors.Wrap(apperrors.KindBadInput, "could not read uploaded image", err)
		}
	}

	return pipeline.IngestRequest{
		Text:         form.Text,
		ImageBytes:   imageBytes,
		ClientTime:   form.ClientTime,
		CategoryHint: types.Category(form.CategoryHint),
	}, nil
}

// Create implements POST /feed.
func (h *FeedHandler) Create(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	anchor := pipeline.ParseClientTime(req.ClientTime, h.Now())
	resp, err := h.Orchestrator.Ingest(c.Request.Context(), anchor, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateStream implements POST /feed/stream: the same inputs as Create, but
// the orchestrator's per-phase events and terminal result/error are framed
// as SSE (spec.md §6).
func (h *FeedHandler) CreateStream(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	w := newSSEWriter(c)
	anchor := pipeline.ParseClientTime(req.ClientTime, h.Now())
	resp, err := h.Orchestrator.IngestStream(c.Request.Context(), anchor, req, func(ev pipeline.PhaseEvent) {
		w.writeJSON(ev)
	})
	if err != nil {
		w.writeJSON(pipeline.ErrorEvent{Type: "error", Message: err.Error()})
		return
	}
	w.writeJSON(pipeline.ResultEvent{Type: "result", Result: resp})
}

// Regenerate implements POST /feed/{id}/regenerate.
func (h *FeedHandler) Regenerate(c *gin.Context) {
	var body struct {
		Phases []string `json:"phases" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindBadInput, "phases is required", err))
		return
	}
	result, err := h.Regenerator.Run(c.Request.Context(), c.Param("id"), body.Phases)
	if err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               result.Record.ID,
		"tags":             result.Record.Tags,
		"dimension_scores": result.Record.DimensionScores,
		"ai_insight":       result.Record.AIInsight,
		"meta_data":        result.Record.MetaData,
		"failed_phases":    result.FailedPhases,
	})
}

// History implements GET /feed/history?limit&offset&category.
func (h *FeedHandler) History(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	var category *types.Category
	if raw := c.Query("category"); raw != "" {
		cat := types.Category(raw)
		category = &cat
	}

	records, err := h.Store.ListHistory(c.Request.Context(), category, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Get implements GET /feed/{id}.
func (h *FeedHandler) Get(c *gin.Context) {
	rec, err := h.Store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Delete implements DELETE /feed/{id}: soft-delete plus best-effort vector
// removal (spec.md §6, §8's soft-delete round-trip property).
func (h *FeedHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.Store.SoftDelete(c.Request.Context(), id); err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	if h.Vector != nil {
		if err := h.Vector.Remove(c.Request.Context(), id); err != nil {
			logger.Warn(c.Request.Context(), "feed: best-effort vector removal failed", "record_id", id, "err", err.Error())
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SetVisibility implements PATCH /feed/{id}/visibility.
func (h *FeedHandler) SetVisibility(c *gin.Context) {
	var body struct {
		IsPublic bool `json:"is_public"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Wrap(apperrors.KindBadInput, "is_public is required", err))
		return
	}
	if err := h.Store.SetVisibility(c.Request.Context(), c.Param("id"), body.IsPublic); err != nil {
		writeError(c, mapStoreError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Image implements GET /feed/image/{path:path}: a hardened proxy onto the
// local upload root (spec.md §4.8's path-traversal/extension-filter rules).
// Object-storage-backed deployments are expected to front images with the
// bucket's own public URL rather than proxy through this endpoint.
func (h *FeedHandler) Image(c *gin.Context) {
	requested := c.Param("path")
	full, err := imagestore.ResolvePath(h.UploadRoot, requested)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	c.File(full)
}

func mapStoreError(err error) error {
	switch err {
	case store.ErrLifeRecordNotFound, store.ErrConversationNotFound:
		return apperrors.Wrap(apperrors.KindNotFound, "not found", err)
	default:
		return err
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
