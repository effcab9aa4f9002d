// Package audit records the append-only history of every role and assignment
// change. Entries are never mutated or deleted.
package audit

import (
	"encoding/json"
	"time"
)

// SubjectType partitions the audit trail by what changed.
type SubjectType string

// Audit subject types.
const (
	SubjectRole SubjectType = "role"
	SubjectUser SubjectType = "user"
)

// Change types recorded in the trail.
const (
	ChangeCreated  = "created"
	ChangeUpdated  = "updated"
	ChangeAssigned = "assigned"
)

// Entry is a single immutable audit record. Ordering is total per subject via
// OccurredAt.
type Entry struct {
	ID            string          `json:"id"`
	SubjectType   SubjectType     `json:"subject_type"`
	SubjectID     string          `json:"subject_id"`
	ChangeType    string          `json:"change_type"`
	Actor         string          `json:"actor"`
	PreviousState json.RawMessage `json:"previous_state,omitempty"`
	NewState      json.RawMessage `json:"new_state,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// TimelineFilters narrows a per-subject timeline query.
type TimelineFilters struct {
	SubjectType SubjectType
	SubjectID   string
	Page        int
	PageSize    int
}

// PagingInfo carries pagination state for timeline results.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Entries []Entry    `json:"entries"`
	Paging  PagingInfo `json:"paging"`
}
