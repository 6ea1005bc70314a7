package audit

import "time"

// TurnLog matches the turn_logs table schema.
type TurnLog struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Intent         string    `json:"intent"`
	Confidence     float64   `json:"confidence"`
	Functions      []string  `json:"functions"`
	Success        bool      `json:"success"`
	ProcessingMs   int64     `json:"processing_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for turn log queries.
type ListParams struct {
	Intent   string
	Success  *bool
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
