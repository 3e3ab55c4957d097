package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
	"github.com/alexjbarnes/authkeeper/internal/models"
)

// Operation produces fresh credentials. It runs at most once per task
// no matter how many callers share the task.
type Operation func(ctx context.Context) (models.Credentials, error)

// task is one execution of an Operation. done is closed after creds and
// err are set.
type task struct {
	done  chan struct{}
	creds models.Credentials
	err   error
}

// entry is the in-flight task for a key. id changes whenever the entry
// is replaced by an escalated task.
type entry struct {
	id              uuid.UUID
	task            *task
	requiresRefresh bool
	waiters         int
}

// Coordinator collapses concurrent refreshes for the same key into one
// task. A caller that needs a forced refresh while a weaker one is in
// flight gets a new task ordered after the current one.
type Coordinator struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// RunOrJoin runs op for key, or joins the task already running for it.
// When requiresRefresh is set and the running task was not started as
// a forced refresh, a new task is queued behind it and replaces it.
//
// Cancelling ctx releases this caller only. The shared task keeps
// running for everyone else attached to it.
func (c *Coordinator) RunOrJoin(ctx context.Context, key string, requiresRefresh bool, op Operation) (models.Credentials, error) {
	c.mu.Lock()

	e, ok := c.entries[key]

	switch {
	case !ok:
		e = c.startLocked(ctx, key, requiresRefresh, nil, op)
	case requiresRefresh && !e.requiresRefresh:
		c.logger.Debug("escalating in-flight refresh",
			slog.String("key", key),
			slog.String("superseded", e.id.String()),
		)

		e = c.startLocked(ctx, key, true, e.task, op)
	}

	e.waiters++
	t := e.task

	c.mu.Unlock()

	select {
	case <-t.done:
		return t.creds.Clone(), t.err
	case <-ctx.Done():
		return models.Credentials{}, ctx.Err()
	}
}

// UpgradeRefreshIntent marks the in-flight task for key as a forced
// refresh so later callers that require one join it instead of queueing
// another. The running operation is not affected. Without an in-flight
// task it does nothing.
func (c *Coordinator) UpgradeRefreshIntent(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.requiresRefresh {
		e.requiresRefresh = true
	}
}

// startLocked registers a new entry for key and starts its task. If
// prev is set the task waits for prev to settle before calling op.
// c.mu must be held.
func (c *Coordinator) startLocked(ctx context.Context, key string, requiresRefresh bool, prev *task, op Operation) *entry {
	e := &entry{
		id:              uuid.New(),
		task:            &task{done: make(chan struct{})},
		requiresRefresh: requiresRefresh,
	}
	c.entries[key] = e

	go c.run(context.WithoutCancel(ctx), key, e, prev, op)

	return e
}

func (c *Coordinator) run(ctx context.Context, key string, e *entry, prev *task, op Operation) {
	if prev != nil {
		<-prev.done
	}

	e.task.creds, e.task.err = invoke(ctx, op)
	close(e.task.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A superseded task must not remove the entry that replaced it.
	if cur, ok := c.entries[key]; ok && cur.id == e.id {
		delete(c.entries, key)
	}

	c.logger.Debug("refresh settled",
		slog.String("key", key),
		slog.String("id", e.id.String()),
		slog.Bool("forced", e.requiresRefresh),
		slog.Int("waiters", e.waiters),
		slog.Bool("ok", e.task.err == nil),
	)
}

// invoke calls op, turning a panic into an error so callers waiting on
// the task are always released.
func invoke(ctx context.Context, op Operation) (creds models.Credentials, err error) {
	defer func() {
		if r := recover(); r != nil {
			creds = models.Credentials{}
			err = autherrors.HandleError(fmt.Errorf("refresh operation panicked: %v", r))
		}
	}()

	return op(ctx)
}
