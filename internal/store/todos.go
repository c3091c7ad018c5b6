package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a todo id does not exist.
var ErrNotFound = errors.New("store: not found")

// ValidationError lists the problems that kept a todo from being saved.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// Todo is a single task with a calendar-day deadline.
type Todo struct {
	ID          int64
	Description string
	Deadline    time.Time // midnight UTC of the due day
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Completed reports whether the todo has been marked done.
func (t Todo) Completed() bool { return t.CompletedAt != nil }

// Scope selects one of the canned todo listings.
type Scope string

const (
	ScopeCurrent Scope = "current" // open, due today or later
	ScopeArchive Scope = "archive" // done, due within the last week
	ScopeStale   Scope = "stale"   // open, overdue
)

// ParseScope maps a user-supplied name to a Scope.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(s)); sc {
	case ScopeCurrent, ScopeArchive, ScopeStale:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scope %q (want current, archive or stale)", s)
}

// Todos is the repository for the todos table. Each method is a single
// statement, so callers never hold a transaction across calls.
type Todos struct {
	db *DB
}

// Day truncates t to its calendar date in t's location, returned as UTC
// midnight so dates compare and format consistently.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const todoColumns = `id, description, deadline, completed_at, created_at, updated_at`

// Create validates and inserts a new open todo.
func (s *Todos) Create(ctx context.Context, description string, deadline time.Time) (Todo, error) {
	description = strings.TrimSpace(description)

	var problems []string
	if description == "" {
		problems = append(problems, "Description can't be blank")
	}
	if deadline.IsZero() {
		problems = append(problems, "Deadline can't be blank")
	}
	if len(problems) > 0 {
		return Todo{}, &ValidationError{Problems: problems}
	}

	now := time.Now().UTC()
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO todos (description, deadline, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		description, Day(deadline).Format(time.DateOnly),
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return Todo{}, fmt.Errorf("inserting todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Todo{}, fmt.Errorf("reading todo id: %w", err)
	}

	s.db.log.Debug().Int64("id", id).Str("deadline", deadline.Format(time.DateOnly)).Msg("todo created")
	return s.Get(ctx, id)
}

// Get loads one todo by id.
func (s *Todos) Get(ctx context.Context, id int64) (Todo, error) {
	row := s.db.sql.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id = ?`, id)
	t, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Todo{}, ErrNotFound
	}
	return t, err
}

// Complete stamps the todo as done at the given moment. Completing an
// already completed todo moves its timestamp.
func (s *Todos) Complete(ctx context.Context, id int64, at time.Time) error {
	ts := at.UTC().Format(time.DateTime)
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE todos SET completed_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("completing todo %d: %w", id, err)
	}
	return expectOne(res)
}

// Reopen clears the completion mark.
func (s *Todos) Reopen(ctx context.Context, id int64) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE todos SET completed_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.DateTime), id)
	if err != nil {
		return fmt.Errorf("reopening todo %d: %w", id, err)
	}
	return expectOne(res)
}

// Delete removes a todo permanently.
func (s *Todos) Delete(ctx context.Context, id int64) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM todos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting todo %d: %w", id, err)
	}
	return expectOne(res)
}

// Incomplete returns open todos due within [from, to], both inclusive
// calendar days, ordered by deadline.
func (s *Todos) Incomplete(ctx context.Context, from, to time.Time) ([]Todo, error) {
	return s.query(ctx,
		`WHERE completed_at IS NULL AND deadline BETWEEN ? AND ? ORDER BY deadline ASC, id ASC`,
		Day(from).Format(time.DateOnly), Day(to).Format(time.DateOnly))
}

// List returns the todos in a scope, relative to the given day.
func (s *Todos) List(ctx context.Context, scope Scope, today time.Time) ([]Todo, error) {
	today = Day(today)
	switch scope {
	case ScopeCurrent:
		return s.query(ctx,
			`WHERE completed_at IS NULL AND deadline >= ? ORDER BY deadline ASC, id ASC`,
			today.Format(time.DateOnly))
	case ScopeArchive:
		return s.query(ctx,
			`WHERE completed_at IS NOT NULL AND deadline >= ? ORDER BY deadline DESC, id DESC`,
			today.AddDate(0, 0, -7).Format(time.DateOnly))
	case ScopeStale:
		return s.query(ctx,
			`WHERE completed_at IS NULL AND deadline < ? ORDER BY deadline DESC, id DESC`,
			today.Format(time.DateOnly))
	}
	return nil, fmt.Errorf("unknown scope %q", scope)
}

func (s *Todos) query(ctx context.Context, where string, args ...any) ([]Todo, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT `+todoColumns+` FROM todos `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	defer rows.Close()

	var todos []Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(sc scanner) (Todo, error) {
	var (
		t                          Todo
		deadline, created, updated string
		completed                  sql.NullString
	)
	if err := sc.Scan(&t.ID, &t.Description, &deadline, &completed, &created, &updated); err != nil {
		return Todo{}, err
	}

	var err error
	if t.Deadline, err = time.Parse(time.DateOnly, deadline); err != nil {
		return Todo{}, fmt.Errorf("todo %d: bad deadline %q: %w", t.ID, deadline, err)
	}
	if completed.Valid {
		at, err := time.Parse(time.DateTime, completed.String)
		if err != nil {
			return Todo{}, fmt.Errorf("todo %d: bad completed_at %q: %w", t.ID, completed.String, err)
		}
		t.CompletedAt = &at
	}
	t.CreatedAt, _ = time.Parse(time.DateTime, created)
	t.UpdatedAt, _ = time.Parse(time.DateTime, updated)
	return t, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
