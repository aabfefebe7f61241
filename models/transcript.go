package models

import (
	"time"

	"github.com/google/uuid"
)

// Transcript is the persisted record of one answered question
type Transcript struct {
	ID             uuid.UUID `json:"id"`
	Question       string    `json:"question"`
	ModelResponses []string  `json:"model_responses"`
	FinalAnswer    string    `json:"final_answer"`
	CreatedAt      time.Time `json:"created_at"`
}
