package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/mehaotian/hshs-server-sub001/internal/jobs"
	"github.com/mehaotian/hshs-server-sub001/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RBACWarmupJob pre-populates the permission cache so the first check after a
// deploy or invalidation does not pay the storage round trip.
type RBACWarmupJob struct {
	Resolver *rbac.Resolver
	Repo     rbac.Repository
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRBACWarmupJob wires dependencies for the warmup handler.
func NewRBACWarmupJob(resolver *rbac.Resolver, repo rbac.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *RBACWarmupJob {
	return &RBACWarmupJob{Resolver: resolver, Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle processes permission warmup tasks. A failed user does not abort the
// pass; warmup is best effort and the cache stays correct either way.
func (j *RBACWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Resolver == nil {
		return errors.New("rbac warmup: handler not configured")
	}
	var payload RBACWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRBACWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	userIDs := payload.UserIDs
	if len(userIDs) == 0 {
		var err error
		userIDs, err = j.Repo.UsersWithActiveRoles(ctx)
		if err != nil {
			j.log().Error("load warmup users", slog.Any("error", err))
			resultErr = err
			return resultErr
		}
	}

	warmed := 0
	for _, userID := range userIDs {
		userCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := j.Resolver.WarmUser(userCtx, userID)
		cancel()
		if err != nil {
			resultErr = err
			j.log().Warn("warm user", slog.Int64("user_id", userID), slog.Any("error", err))
			continue
		}
		warmed++
	}
	j.metrics().AddWarmedUsers(TaskRBACWarmup, warmed)

	j.log().Info("completed permission warmup",
		slog.Int("users", len(userIDs)),
		slog.Int("warmed", warmed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *RBACWarmupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRBACWarmup))
	}
	return slog.Default().With(slog.String("job", TaskRBACWarmup))
}

func (j *RBACWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
