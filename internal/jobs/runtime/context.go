package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelforge/reelforge-backend/internal/data/repos"
	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/pkg/dbctx"
)

// Context is the capability-scoped execution handle for one claimed task.
// Stage handlers never touch the task_run row directly; heartbeats go through
// here and outcomes go through the dispatcher after the handler returns.
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.Job
	Task *types.TaskRun

	tasks   repos.TaskRunRepo
	payload map[string]any
	config  map[string]any
}

// NewContext eagerly decodes the task payload and the job config so handlers
// read inputs through Payload()/Config(). Decode failures leave empty maps;
// handlers validate the fields they require.
func NewContext(ctx context.Context, db *gorm.DB, job *types.Job, task *types.TaskRun, tasks repos.TaskRunRepo) *Context {
	c := &Context{
		Ctx:   ctx,
		DB:    db,
		Job:   job,
		Task:  task,
		tasks: tasks,
	}
	c.payload = decodeJSONMap(rawOrNil(task != nil, func() []byte { return task.Payload }))
	c.config = decodeJSONMap(rawOrNil(job != nil, func() []byte { return job.Config }))
	return c
}

func rawOrNil(ok bool, get func() []byte) []byte {
	if !ok {
		return nil
	}
	return get()
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// Config is the decoded job-level config JSON.
func (c *Context) Config() map[string]any {
	if c.config == nil {
		c.config = map[string]any{}
	}
	return c.config
}

func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Heartbeat refreshes the liveness timestamp on the claimed task. Long
// handlers call this periodically; a task whose heartbeat goes stale is
// reclaimed by another worker.
func (c *Context) Heartbeat() error {
	if c.Task == nil || c.Task.ID == uuid.Nil || c.tasks == nil {
		return nil
	}
	return c.tasks.Heartbeat(dbctx.Context{Ctx: c.Ctx}, c.Task.ID)
}
