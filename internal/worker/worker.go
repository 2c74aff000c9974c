package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

type Outcome[T any] struct {
	Name     string
	Value    T
	Err      error
	Duration time.Duration
}

// Run executes tasks with at most limit running at once and returns one
// outcome per task, in task order. It returns only after every task has
// settled. A failing task never cancels its siblings. When timeout > 0 each
// task runs under its own deadline derived from ctx.
func Run[T any](ctx context.Context, limit int, timeout time.Duration, tasks []Task[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(tasks))
	if len(tasks) == 0 {
		return outcomes
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = runOne(ctx, timeout, task)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func runOne[T any](ctx context.Context, timeout time.Duration, task Task[T]) (out Outcome[T]) {
	out.Name = task.Name
	start := time.Now()

	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()

	out.Value, out.Err = task.Run(taskCtx)
	if out.Err == nil && taskCtx.Err() != nil {
		// The task ignored its deadline; its result is not trusted.
		out.Err = taskCtx.Err()
	}
	return out
}
