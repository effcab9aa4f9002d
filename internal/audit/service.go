package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists and reads audit entries.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	ListBySubject(ctx context.Context, subjectType SubjectType, subjectID string, offset, limit int) ([]Entry, error)
}

// Service coordinates audit writes and timeline reads.
type Service struct {
	repo Repository
}

// NewService builds the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Append records a change. Callers treat a failure here as non-fatal to the
// primary operation but must surface it as a warning.
func (s *Service) Append(ctx context.Context, e Entry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("audit: repository not configured")
	}
	if e.SubjectType != SubjectRole && e.SubjectType != SubjectUser {
		return fmt.Errorf("audit: unknown subject type %q", e.SubjectType)
	}
	if e.SubjectID == "" || e.ChangeType == "" {
		return fmt.Errorf("audit: subject id and change type are required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return s.repo.Insert(ctx, e)
}

// Timeline returns the per-subject history, newest first, with paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.ListBySubject(ctx, filters.SubjectType, filters.SubjectID, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// MarshalState encodes a before/after snapshot for an entry. A nil value
// yields nil so absent states stay absent in the record.
func MarshalState(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	return raw
}
