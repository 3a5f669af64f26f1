package model

import (
	"time"
)

// SessionStatus represents the lifecycle state of an ingestion session.
// A session holds exactly one status at any time.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusSuspended  SessionStatus = "suspended"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// AnchorStatus tracks anchor (row-identifier) resolution for a file.
// CONFIRMED, INDIRECT_LINK and FK_LINK are terminal: once set, the router
// treats the anchor as approved regardless of other review flags.
type AnchorStatus string

const (
	AnchorStatusPending      AnchorStatus = "PENDING"
	AnchorStatusNeedsReview  AnchorStatus = "NEEDS_REVIEW"
	AnchorStatusConfirmed    AnchorStatus = "CONFIRMED"
	AnchorStatusIndirectLink AnchorStatus = "INDIRECT_LINK"
	AnchorStatusFKLink       AnchorStatus = "FK_LINK"
)

// Terminal reports whether the anchor has reached a confirmed state.
func (s AnchorStatus) Terminal() bool {
	switch s {
	case AnchorStatusConfirmed, AnchorStatusIndirectLink, AnchorStatusFKLink:
		return true
	default:
		return false
	}
}

// ReviewType categorizes a human-review request.
type ReviewType string

const (
	ReviewTypeAnchor       ReviewType = "anchor"
	ReviewTypeSemantics    ReviewType = "semantics"
	ReviewTypeRelationship ReviewType = "relationship"
)

// PipelineState is the single shared record threaded through every phase of
// an ingestion session. It is owned exclusively by the executor; phases
// return a StateUpdate that the executor merges.
type PipelineState struct {
	SessionID string        `json:"session_id"`
	DatasetID string        `json:"dataset_id"`
	FilePath  string        `json:"file_path"`
	Status    SessionStatus `json:"status"`
	Phase     string        `json:"phase"`

	Profile  *FileProfile      `json:"profile,omitempty"`
	Fragment KnowledgeFragment `json:"fragment"`

	AnchorColumn     string       `json:"anchor_column,omitempty"`
	AnchorStatus     AnchorStatus `json:"anchor_status"`
	AnchorConfidence float64      `json:"anchor_confidence"`

	// ConfirmRequested is set by the deterministic profiling stage when its
	// anchor guess is too weak to trust without a reviewer.
	ConfirmRequested bool `json:"confirm_requested"`
	NeedsHumanReview bool `json:"needs_human_review"`

	PendingQuestion   string     `json:"pending_question,omitempty"`
	PendingReviewType ReviewType `json:"pending_review_type,omitempty"`
	HumanAnswer       string     `json:"human_answer,omitempty"`

	// RetryCount is monotonically non-decreasing within a session. Past the
	// configured cap the router forces a default decision.
	RetryCount int `json:"retry_count"`

	Preferences  map[string]string `json:"preferences,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Log          []string          `json:"log,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateUpdate is a partial update returned by a phase. Nil fields are left
// untouched; AppendLog entries are appended, never replaced.
type StateUpdate struct {
	Status            *SessionStatus
	Profile           *FileProfile
	Fragment          *KnowledgeFragment
	AnchorColumn      *string
	AnchorStatus      *AnchorStatus
	AnchorConfidence  *float64
	ConfirmRequested  *bool
	NeedsHumanReview  *bool
	PendingQuestion   *string
	PendingReviewType *ReviewType
	HumanAnswer       *string
	RetryCount        *int
	Preferences       map[string]string
	ErrorMessage      *string
	AppendLog         []string
}

// Apply merges the update into the state, last-writer-wins per field.
// Log entries append. RetryCount never decreases.
func (s *PipelineState) Apply(u StateUpdate) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Profile != nil {
		s.Profile = u.Profile
	}
	if u.Fragment != nil {
		s.Fragment = *u.Fragment
	}
	if u.AnchorColumn != nil {
		s.AnchorColumn = *u.AnchorColumn
	}
	if u.AnchorStatus != nil {
		s.AnchorStatus = *u.AnchorStatus
	}
	if u.AnchorConfidence != nil {
		s.AnchorConfidence = *u.AnchorConfidence
	}
	if u.ConfirmRequested != nil {
		s.ConfirmRequested = *u.ConfirmRequested
	}
	if u.NeedsHumanReview != nil {
		s.NeedsHumanReview = *u.NeedsHumanReview
	}
	if u.PendingQuestion != nil {
		s.PendingQuestion = *u.PendingQuestion
	}
	if u.PendingReviewType != nil {
		s.PendingReviewType = *u.PendingReviewType
	}
	if u.HumanAnswer != nil {
		s.HumanAnswer = *u.HumanAnswer
	}
	if u.RetryCount != nil && *u.RetryCount > s.RetryCount {
		s.RetryCount = *u.RetryCount
	}
	if u.Preferences != nil {
		s.Preferences = u.Preferences
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = *u.ErrorMessage
	}
	s.Log = append(s.Log, u.AppendLog...)
	s.UpdatedAt = time.Now().UTC()
}

// Ptr helpers for building StateUpdates.

func StatusPtr(v SessionStatus) *SessionStatus { return &v }
func AnchorPtr(v AnchorStatus) *AnchorStatus   { return &v }
func ReviewPtr(v ReviewType) *ReviewType       { return &v }
func StrPtr(v string) *string                  { return &v }
func BoolPtr(v bool) *bool                     { return &v }
func IntPtr(v int) *int                        { return &v }
func Float64Ptr(v float64) *float64            { return &v }
