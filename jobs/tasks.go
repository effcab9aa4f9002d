package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/engine"
	"github.com/pawdesk/pawdesk/internal/identity"
	jobmetrics "github.com/pawdesk/pawdesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClaimsPush retries a failed token claim push for one user.
	TaskClaimsPush = "claims:push"
	// TaskClaimsReconcile sweeps assignments whose claims were never pushed.
	TaskClaimsReconcile = "claims:reconcile"
)

// ClaimsPushPayload identifies the assignment to re-project into claims.
type ClaimsPushPayload struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// NewClaimsPushTask constructs an Asynq task.
func NewClaimsPushTask(payload ClaimsPushPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClaimsPush, data), nil
}

// NewClaimsReconcileTask constructs the periodic sweep task. It carries no
// payload; the handler derives the stale set from the store.
func NewClaimsReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskClaimsReconcile, nil)
}

// ClaimPusher projects an assignment into token claims.
type ClaimPusher interface {
	PushClaims(ctx context.Context, uid, role string, permissions []string) (time.Time, error)
}

// PushMarker records the claim-push watermark.
type PushMarker interface {
	MarkClaimsPushed(ctx context.Context, userID string, at time.Time) error
}

// StaleLister reads assignments whose claims lag behind the store.
type StaleLister interface {
	ListStale(ctx context.Context, cutoff time.Time) ([]assignments.Assignment, error)
}

// Reconciler re-pushes claims for a stale batch.
type Reconciler interface {
	Reconcile(ctx context.Context, stale []assignments.Assignment) engine.FanOutResult
}

// NewClaimsPushHandler builds the handler for claim-push retries. A deleted
// user is terminal, so the task is dropped instead of retried.
func NewClaimsPushHandler(bridge ClaimPusher, marker PushMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskClaimsPush)
		var payload ClaimsPushPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		pushedAt, err := bridge.PushClaims(ctx, payload.UserID, payload.Role, payload.Permissions)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				logger.Warn("claim push target no longer exists",
					slog.String("user_id", payload.UserID))
				return tracker.End(asynq.SkipRetry)
			}
			return tracker.End(err)
		}
		if err := marker.MarkClaimsPushed(ctx, payload.UserID, pushedAt); err != nil {
			logger.Warn("claim push watermark not recorded",
				slog.String("user_id", payload.UserID), slog.Any("error", err))
		}
		return tracker.End(nil)
	}
}

// NewClaimsReconcileHandler builds the periodic sweep handler. Cutoff guards
// against racing a synchronous push that is still in flight.
func NewClaimsReconcileHandler(lister StaleLister, reconciler Reconciler, cutoff time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskClaimsReconcile)
		stale, err := lister.ListStale(ctx, time.Now().Add(-cutoff))
		if err != nil {
			return tracker.End(err)
		}
		if len(stale) == 0 {
			return tracker.End(nil)
		}
		result := reconciler.Reconcile(ctx, stale)
		logger.Info("claims reconcile sweep finished",
			slog.Int("stale", len(stale)),
			slog.Int("succeeded", len(result.Succeeded)),
			slog.Int("failed", len(result.Failed)))
		for _, f := range result.Failed {
			logger.Warn("claims reconcile failure",
				slog.String("user_id", f.UserID), slog.String("reason", f.Reason))
		}
		return tracker.End(nil)
	}
}
