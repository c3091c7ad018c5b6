package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tasks"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"todo"},
		Short:   "Manage tasks from the terminal",
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksAddCmd())
	cmd.AddCommand(newTasksDoneCmd())
	cmd.AddCommand(newTasksRemoveCmd())
	cmd.AddCommand(newTasksSeedCmd())

	return cmd
}

func newTasksListCmd() *cobra.Command {
	var scope, period string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by scope (current, archive, stale) or period (today, tomorrow, week)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			var todos []store.Todo
			if period != "" {
				p, err := tasks.ParsePeriod(period)
				if err != nil {
					return err
				}
				todos, err = tasks.NewService(db.Todos()).ForPeriod(cmd.Context(), p)
				if err != nil {
					return err
				}
			} else {
				sc, err := store.ParseScope(scope)
				if err != nil {
					return err
				}
				todos, err = db.Todos().List(cmd.Context(), sc, time.Now())
				if err != nil {
					return err
				}
			}

			printTodos(cmd.OutOrStdout(), todos)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(store.ScopeCurrent), "listing scope")
	cmd.Flags().StringVar(&period, "period", "", "keypad period; overrides --scope")
	return cmd
}

func newTasksAddCmd() *cobra.Command {
	var due string

	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deadline := store.Day(time.Now())
			if due != "" {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid --due %q: want YYYY-MM-DD", due)
				}
				deadline = d
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			todo, err := db.Todos().Create(cmd.Context(), args[0], deadline)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created #%d due %s\n", todo.ID, todo.Deadline.Format(dateLayout))
			return nil
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "deadline as YYYY-MM-DD (default today)")
	return cmd
}

func newTasksDoneCmd() *cobra.Command {
	var reopen bool

	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if reopen {
				err = db.Todos().Reopen(cmd.Context(), id)
			} else {
				err = db.Todos().Complete(cmd.Context(), id, time.Now())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated #%d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reopen, "undo", false, "reopen instead of completing")
	return cmd
}

func newTasksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Todos().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%d\n", id)
			return nil
		},
	}
}

func newTasksSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert example tasks around today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.Todos().Seed(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d tasks\n", n)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func printTodos(w io.Writer, todos []store.Todo) {
	if len(todos) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for _, t := range todos {
		mark := " "
		if t.Completed() {
			mark = "x"
		}
		fmt.Fprintf(w, "[%s] #%-4d %s  %s\n", mark, t.ID, t.Deadline.Format(dateLayout), t.Description)
	}
}
