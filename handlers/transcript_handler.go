package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"lexgraph-backend/storage"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TranscriptHandler handles HTTP requests for persisted transcripts
type TranscriptHandler struct {
	store storage.Storage
}

// NewTranscriptHandler creates a new transcript handler
func NewTranscriptHandler(store storage.Storage) *TranscriptHandler {
	return &TranscriptHandler{store: store}
}

// GetTranscript handles GET /api/transcripts/:key
func (h *TranscriptHandler) GetTranscript(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_KEY",
				"message": "Transcript key is required",
			},
		})
		return
	}

	transcript, err := h.store.Load(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Transcript not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LOAD_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    transcript,
	})
}

// ListTranscripts handles GET /api/transcripts
func (h *TranscriptHandler) ListTranscripts(c *gin.Context) {
	lister, ok := h.store.(storage.Lister)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_SUPPORTED",
				"message": "Listing requires the postgres transcript backend",
			},
		})
		return
	}

	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_LIMIT",
				"message": "limit must be between 1 and 100",
			},
		})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_OFFSET",
				"message": "offset must be a non-negative integer",
			},
		})
		return
	}

	transcripts, err := lister.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LIST_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    transcripts,
	})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
