package model

import "time"

// ConversationTurn is one human-review exchange. Immutable once appended.
type ConversationTurn struct {
	TurnID          int        `json:"turn_id"`
	ReviewType      ReviewType `json:"review_type"`
	Question        string     `json:"question"`
	HumanResponse   string     `json:"human_response"`
	DerivedAction   string     `json:"derived_action"`
	SubjectFilePath string     `json:"subject_file_path,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// ConversationLedger is the append-only per-session record of review turns.
// DerivedPreferences is always a pure function of Turns, recomputed on every
// append so it can never drift from the visible history.
type ConversationLedger struct {
	SessionID          string             `json:"session_id"`
	DatasetID          string             `json:"dataset_id"`
	Turns              []ConversationTurn `json:"turns"`
	DerivedPreferences map[string]string  `json:"derived_preferences,omitempty"`
}
