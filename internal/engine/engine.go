// Package engine orchestrates multi-store writes across the role catalog,
// the user assignment table, the token claim bridge and the audit trail.
// It is the only write path; the enforcement middleware only ever reads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/audit"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/roles"
)

// RoleCatalog is the role store operations the engine drives.
type RoleCatalog interface {
	Create(ctx context.Context, name string, permissions []string, description string) (roles.RoleDefinition, error)
	Update(ctx context.Context, name string, permissions []string, description *string) (previous, updated roles.RoleDefinition, err error)
	Get(ctx context.Context, name string) (roles.RoleDefinition, error)
	List(ctx context.Context) ([]roles.RoleDefinition, error)
}

// AssignmentStore is the user assignment operations the engine drives.
type AssignmentStore interface {
	Assign(ctx context.Context, userID, email, roleName string, customPermissions []string) (previous *assignments.Assignment, updated assignments.Assignment, err error)
	Get(ctx context.Context, userID string) (assignments.Assignment, error)
	ListByRole(ctx context.Context, role string) ([]assignments.Assignment, error)
	Recompute(ctx context.Context, a assignments.Assignment, oldDefaults, newDefaults []string) (assignments.Assignment, error)
}

// ClaimPusher projects an assignment into token claims.
type ClaimPusher interface {
	PushClaims(ctx context.Context, uid, role string, permissions []string) (time.Time, error)
}

// Directory resolves identity records for the elevation guard.
type Directory interface {
	GetUser(ctx context.Context, uid string) (identity.Identity, error)
}

// AuditTrail appends change records.
type AuditTrail interface {
	Append(ctx context.Context, e audit.Entry) error
}

// PushMarker records the claim-push watermark on an assignment.
type PushMarker interface {
	MarkClaimsPushed(ctx context.Context, userID string, at time.Time) error
}

// PushRetrier enqueues a claim push for asynchronous retry after a transient
// failure.
type PushRetrier interface {
	EnqueueClaimPush(ctx context.Context, userID, role string, permissions []string) error
}

// FanOutMetrics observes fan-out outcomes.
type FanOutMetrics interface {
	ObserveFanOut(role string, succeeded, failed int)
}

// UserFailure records one user's failed update during fan-out.
type UserFailure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// FanOutResult summarizes a role-update fan-out. Warnings carry non-fatal
// conditions such as audit-log outages.
type FanOutResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []UserFailure `json:"failed"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Params collects the engine's dependencies.
type Params struct {
	Roles       RoleCatalog
	Assignments AssignmentStore
	Bridge      ClaimPusher
	Directory   Directory
	Audit       AuditTrail
	Marker      PushMarker
	Retrier     PushRetrier
	Locks       Locker
	Metrics     FanOutMetrics
	Logger      *slog.Logger
	Concurrency int
}

// Engine coordinates the write paths.
type Engine struct {
	roles       RoleCatalog
	assignments AssignmentStore
	bridge      ClaimPusher
	directory   Directory
	audit       AuditTrail
	marker      PushMarker
	retrier     PushRetrier
	locks       Locker
	metrics     FanOutMetrics
	logger      *slog.Logger
	concurrency int
}

// New constructs an Engine.
func New(p Params) *Engine {
	locks := p.Locks
	if locks == nil {
		locks = NopLocker{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		roles:       p.Roles,
		assignments: p.Assignments,
		bridge:      p.Bridge,
		directory:   p.Directory,
		audit:       p.Audit,
		marker:      p.Marker,
		retrier:     p.Retrier,
		locks:       locks,
		metrics:     p.Metrics,
		logger:      logger,
		concurrency: concurrency,
	}
}

// CreateRole validates and persists a custom role and audits the creation.
// Warnings report an audit outage; the creation itself still stands.
func (e *Engine) CreateRole(ctx context.Context, actor, name string, permissions []string, description string) (roles.RoleDefinition, []string, error) {
	release, err := e.locks.Acquire(ctx, "role:"+name)
	if err != nil {
		return roles.RoleDefinition{}, nil, err
	}
	defer release()

	created, err := e.roles.Create(ctx, name, permissions, description)
	if err != nil {
		return roles.RoleDefinition{}, nil, err
	}

	var warnings []string
	if err := e.appendAudit(ctx, audit.Entry{
		SubjectType: audit.SubjectRole,
		SubjectID:   created.Name,
		ChangeType:  audit.ChangeCreated,
		Actor:       actor,
		NewState:    audit.MarshalState(created),
	}); err != nil {
		warnings = append(warnings, auditWarning(err))
	}
	return created, warnings, nil
}

// UpdateRole persists the new definition, then fans the change out to every
// user holding the role. Each per-user chain (store write, claim push, audit
// append) runs independently under bounded concurrency; one user's failure
// never aborts the rest. The call returns only after every affected user has
// either succeeded or been recorded as failed.
func (e *Engine) UpdateRole(ctx context.Context, actor, name string, permissions []string, description *string) (roles.RoleDefinition, FanOutResult, error) {
	release, err := e.locks.Acquire(ctx, "role:"+name)
	if err != nil {
		return roles.RoleDefinition{}, FanOutResult{}, err
	}
	defer release()

	previous, updated, err := e.roles.Update(ctx, name, permissions, description)
	if err != nil {
		return roles.RoleDefinition{}, FanOutResult{}, err
	}

	result := FanOutResult{Succeeded: []string{}, Failed: []UserFailure{}}
	if err := e.appendAudit(ctx, audit.Entry{
		SubjectType:   audit.SubjectRole,
		SubjectID:     name,
		ChangeType:    audit.ChangeUpdated,
		Actor:         actor,
		PreviousState: audit.MarshalState(previous),
		NewState:      audit.MarshalState(updated),
	}); err != nil {
		result.Warnings = append(result.Warnings, auditWarning(err))
	}

	affected, err := e.assignments.ListByRole(ctx, name)
	if err != nil {
		return roles.RoleDefinition{}, FanOutResult{}, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, a := range affected {
		g.Go(func() error {
			outcome := e.propagate(gctx, actor, a, previous.Permissions, updated.Permissions)
			mu.Lock()
			defer mu.Unlock()
			if outcome.failure != nil {
				result.Failed = append(result.Failed, *outcome.failure)
			} else {
				result.Succeeded = append(result.Succeeded, a.UserID)
			}
			result.Warnings = append(result.Warnings, outcome.warnings...)
			return nil
		})
	}
	_ = g.Wait()

	if e.metrics != nil {
		e.metrics.ObserveFanOut(name, len(result.Succeeded), len(result.Failed))
	}
	return updated, result, nil
}

type propagation struct {
	failure  *UserFailure
	warnings []string
}

// propagate runs one user's update chain in the fixed order: assignment
// write, claim push, audit append.
func (e *Engine) propagate(ctx context.Context, actor string, a assignments.Assignment, oldDefaults, newDefaults []string) propagation {
	var out propagation

	recomputed, err := e.assignments.Recompute(ctx, a, oldDefaults, newDefaults)
	if err != nil {
		e.logger.Warn("fan-out assignment write failed",
			slog.String("user_id", a.UserID), slog.Any("error", err))
		out.failure = &UserFailure{UserID: a.UserID, Reason: err.Error()}
		return out
	}

	pushedAt, err := e.bridge.PushClaims(ctx, a.UserID, recomputed.Role, recomputed.Permissions)
	if err != nil {
		e.logger.Warn("fan-out claim push failed",
			slog.String("user_id", a.UserID), slog.Any("error", err))
		if identity.IsRetryable(err) {
			e.scheduleRetry(ctx, recomputed, &out)
		}
		out.failure = &UserFailure{UserID: a.UserID, Reason: err.Error()}
		return out
	}
	e.markPushed(ctx, a.UserID, pushedAt, &out)

	if err := e.appendAudit(ctx, audit.Entry{
		SubjectType:   audit.SubjectUser,
		SubjectID:     a.UserID,
		ChangeType:    audit.ChangeUpdated,
		Actor:         actor,
		PreviousState: audit.MarshalState(a),
		NewState:      audit.MarshalState(recomputed),
	}); err != nil {
		out.warnings = append(out.warnings, auditWarning(err))
	}
	return out
}

// AssignUserRole reassigns a single user. No further fan-out is needed: a
// user holds exactly one role.
func (e *Engine) AssignUserRole(ctx context.Context, actor, userID, roleName string, customPermissions []string) (assignments.Assignment, []string, error) {
	release, err := e.locks.Acquire(ctx, "user:"+userID)
	if err != nil {
		return assignments.Assignment{}, nil, err
	}
	defer release()

	target, err := e.directory.GetUser(ctx, userID)
	if err != nil {
		return assignments.Assignment{}, nil, err
	}

	previous, updated, err := e.assignments.Assign(ctx, userID, target.Email, roleName, customPermissions)
	if err != nil {
		return assignments.Assignment{}, nil, err
	}

	var warnings []string
	pushedAt, err := e.bridge.PushClaims(ctx, userID, updated.Role, updated.Permissions)
	if err != nil {
		// The store write is durable; claims lag behind until the retry or
		// the reconciliation sweep lands.
		warnings = append(warnings, fmt.Sprintf("claim push failed: %v", err))
		if identity.IsRetryable(err) {
			var p propagation
			e.scheduleRetry(ctx, updated, &p)
			warnings = append(warnings, p.warnings...)
		}
	} else {
		var p propagation
		e.markPushed(ctx, userID, pushedAt, &p)
		warnings = append(warnings, p.warnings...)
	}

	if err := e.appendAudit(ctx, audit.Entry{
		SubjectType:   audit.SubjectUser,
		SubjectID:     userID,
		ChangeType:    audit.ChangeAssigned,
		Actor:         actor,
		PreviousState: audit.MarshalState(previous),
		NewState:      audit.MarshalState(updated),
	}); err != nil {
		warnings = append(warnings, auditWarning(err))
	}
	return updated, warnings, nil
}

// Reconcile pushes claims for every assignment whose store write never got a
// matching claim push. Used by the background sweep.
func (e *Engine) Reconcile(ctx context.Context, stale []assignments.Assignment) FanOutResult {
	result := FanOutResult{Succeeded: []string{}, Failed: []UserFailure{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, a := range stale {
		g.Go(func() error {
			pushedAt, err := e.bridge.PushClaims(gctx, a.UserID, a.Role, a.Permissions)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, UserFailure{UserID: a.UserID, Reason: err.Error()})
				return nil
			}
			var p propagation
			e.markPushed(gctx, a.UserID, pushedAt, &p)
			result.Warnings = append(result.Warnings, p.warnings...)
			result.Succeeded = append(result.Succeeded, a.UserID)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (e *Engine) scheduleRetry(ctx context.Context, a assignments.Assignment, out *propagation) {
	if e.retrier == nil {
		return
	}
	if err := e.retrier.EnqueueClaimPush(ctx, a.UserID, a.Role, a.Permissions); err != nil {
		out.warnings = append(out.warnings, fmt.Sprintf("claim push retry not scheduled for %s: %v", a.UserID, err))
	}
}

func (e *Engine) markPushed(ctx context.Context, userID string, at time.Time, out *propagation) {
	if e.marker == nil {
		return
	}
	if err := e.marker.MarkClaimsPushed(ctx, userID, at); err != nil {
		out.warnings = append(out.warnings, fmt.Sprintf("claim push watermark not recorded for %s: %v", userID, err))
	}
}

// appendAudit downgrades audit outages: the primary operation proceeds but
// the failure must stay observable.
func (e *Engine) appendAudit(ctx context.Context, entry audit.Entry) error {
	if e.audit == nil {
		return errors.New("audit trail not configured")
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Warn("audit append failed",
			slog.String("subject_type", string(entry.SubjectType)),
			slog.String("subject_id", entry.SubjectID),
			slog.Any("error", err))
		return err
	}
	return nil
}

func auditWarning(err error) string {
	return fmt.Sprintf("audit log unavailable: %v", err)
}
