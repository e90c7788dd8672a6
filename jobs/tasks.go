package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACWarmup is the task type for permission cache warmup.
	TaskRBACWarmup = "rbac:cache_warmup"
)

// RBACWarmupPayload selects which users to warm. An empty UserIDs warms every
// user holding at least one active role.
type RBACWarmupPayload struct {
	UserIDs []int64 `json:"user_ids,omitempty"`
}

// NewRBACWarmupTask constructs an Asynq task.
func NewRBACWarmupTask(payload RBACWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACWarmup, data), nil
}
