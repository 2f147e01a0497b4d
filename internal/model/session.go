package model

import "time"

// Session is the public view of one chat session.
type Session struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SelectedModels []string  `json:"selected_models"`
	ActiveID       string    `json:"active_id,omitempty"`
	MessageCount   int       `json:"message_count"`
	Running        []string  `json:"running"`
}

// StopResponse reports how many streams a stop request cancelled.
type StopResponse struct {
	Stopped int `json:"stopped"`
}
