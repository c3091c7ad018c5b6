// Package tasks exposes the to-do operations available on a call: the
// keypad lookups and the functions the realtime model can invoke.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tools"
)

// Service answers task queries and mutations against the store.
type Service struct {
	todos *store.Todos
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given repository.
func NewService(todos *store.Todos, opts ...Option) *Service {
	s := &Service{todos: todos, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForPeriod returns the open todos due within the period.
func (s *Service) ForPeriod(ctx context.Context, p Period) ([]store.Todo, error) {
	from, to := p.Window(s.now())
	return s.todos.Incomplete(ctx, from, to)
}

// TodoJSON is the wire shape of a todo handed to the model.
type TodoJSON struct {
	ID          int64  `json:"id"`
	Deadline    string `json:"deadline"`
	Description string `json:"description"`
}

func toJSON(t store.Todo) TodoJSON {
	return TodoJSON{ID: t.ID, Deadline: t.Deadline.Format(time.DateOnly), Description: t.Description}
}

func failed(message string) tools.Result {
	return tools.Result{"status": "failed", "message": message}
}

const taskNotFound = "Task not found"

// Specs returns the operation table in the order it is advertised.
func (s *Service) Specs() []tools.Spec {
	periods := make([]any, len(Periods))
	for i, p := range Periods {
		periods[i] = string(p)
	}

	return []tools.Spec{
		{
			Name:        "get_tasks",
			Description: "Fetch user's tasks for a given period of time.",
			Signature:   tools.Params(tools.Required("period", tools.Enum, periods...)),
			Handler:     s.getTasks,
		},
		{
			Name:        "create_task",
			Description: "Create a new task for a specified date",
			Signature: tools.Params(
				tools.Required("deadline", tools.Date),
				tools.Required("description", tools.String),
			),
			Handler: s.createTask,
		},
		{
			Name:        "complete_task",
			Description: "Mark a task as completed",
			Signature:   tools.Params(tools.Required("id", tools.Integer)),
			Handler:     s.completeTask,
		},
		{
			Name:        "delete_task",
			Description: "Delete a task",
			Signature:   tools.Params(tools.Required("id", tools.Integer)),
			Handler:     s.deleteTask,
		},
	}
}

// Register adds the task operations to r.
func (s *Service) Register(r *tools.Registry) error {
	return r.Register(s.Specs()...)
}

func (s *Service) getTasks(ctx context.Context, args tools.Args) (tools.Result, error) {
	period, err := ParsePeriod(args.String("period"))
	if err != nil {
		return nil, err
	}
	todos, err := s.ForPeriod(ctx, period)
	if err != nil {
		return nil, err
	}

	out := make([]TodoJSON, 0, len(todos))
	for _, t := range todos {
		out = append(out, toJSON(t))
	}
	return tools.Result{"todos": out}, nil
}

func (s *Service) createTask(ctx context.Context, args tools.Args) (tools.Result, error) {
	deadline, _ := args.Date("deadline")
	todo, err := s.todos.Create(ctx, args.String("description"), deadline)

	var invalid *store.ValidationError
	switch {
	case errors.As(err, &invalid):
		return failed(invalid.Error()), nil
	case err != nil:
		return nil, err
	}
	return tools.Result{"status": "created", "todo": toJSON(todo)}, nil
}

func (s *Service) completeTask(ctx context.Context, args tools.Args) (tools.Result, error) {
	id, _ := args.Int("id")
	return s.mutate(s.todos.Complete(ctx, id, s.now()))
}

func (s *Service) deleteTask(ctx context.Context, args tools.Args) (tools.Result, error) {
	id, _ := args.Int("id")
	return s.mutate(s.todos.Delete(ctx, id))
}

func (s *Service) mutate(err error) (tools.Result, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return failed(taskNotFound), nil
	case err != nil:
		return nil, err
	}
	return tools.Result{"status": "completed"}, nil
}
