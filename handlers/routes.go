package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the API endpoints under r
func RegisterRoutes(r gin.IRouter, questions *QuestionHandler, transcripts *TranscriptHandler) {
	api := r.Group("/api")
	{
		// Question endpoints
		api.POST("/questions", questions.AskQuestion)

		// Transcript endpoints
		api.GET("/transcripts", transcripts.ListTranscripts)
		api.GET("/transcripts/:key", transcripts.GetTranscript)
	}
}
