package handlers

import (
	"context"
	"errors"
	"net/http"

	"lexgraph-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Asker answers one question
type Asker interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResult, error)
}

// QuestionHandler handles HTTP requests for questions
type QuestionHandler struct {
	agent  Asker
	logger *zap.Logger
}

// NewQuestionHandler creates a new question handler
func NewQuestionHandler(agent Asker, logger *zap.Logger) *QuestionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestionHandler{
		agent:  agent,
		logger: logger,
	}
}

// AskQuestionRequest represents the request body for asking a question
type AskQuestionRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskQuestionResponse is the data of a processed question
type AskQuestionResponse struct {
	Status        service.AgentStatus `json:"status"`
	Answer        string              `json:"answer,omitempty"`
	Iterations    int                 `json:"iterations"`
	TranscriptKey string              `json:"transcript_key,omitempty"`
	Responses     []string            `json:"model_responses"`
}

// AskQuestion handles POST /api/questions
func (h *QuestionHandler) AskQuestion(c *gin.Context) {
	var req AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.agent.Ask(c.Request.Context(), service.AskRequest{Question: req.Question})
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "EMPTY_QUESTION",
					"message": err.Error(),
				},
			})
			return
		}

		h.logger.Error("question failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ASK_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": AskQuestionResponse{
			Status:        result.Status,
			Answer:        result.Answer,
			Iterations:    result.Iterations,
			TranscriptKey: result.TranscriptKey,
			Responses:     result.Responses,
		},
	})
}
