package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/spf13/cobra"
)

func newTodoCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Work with the task list of an entry",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{fmt.Errorf("missing subcommand")}
		},
	}
	cmd.AddCommand(
		newTodoListCommand(app),
		newTodoMarkCommand(app, true),
		newTodoMarkCommand(app, false),
	)
	return cmd
}

func newTodoListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list <id>",
		Short: "List the tasks of an entry",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session(cmd.Context(), false, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				tasks, err := svc.Entries.Tasks(ctx, args[0])
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, tasks)
				}
				printTasks(app, tasks)
				return nil
			})
		},
	}
}

func printTasks(app *App, tasks []models.Task) {
	for i, t := range tasks {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(app.out, "[%s] %d. %s\n", mark, i+1, t.Text)
	}
}

// newTodoMarkCommand builds done, or undo when done is false. Both write a
// new revision and print its id.
func newTodoMarkCommand(app *App, done bool) *cobra.Command {
	use, short := "done", "Mark a task as done"
	if !done {
		use, short = "undo", "Mark a task as not done"
	}
	return &cobra.Command{
		Use:   use + " <id> <n>",
		Short: short,
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return usageError{fmt.Errorf("task number %q is not an integer", args[1])}
			}
			return app.session(cmd.Context(), true, func(ctx context.Context, _ *engine.Engine, svc *services.Services) error {
				e, err := svc.Entries.SetTask(ctx, args[0], n, done)
				if err != nil {
					return err
				}
				if app.opts.JSON {
					return printJSON(app.out, e)
				}
				fmt.Fprintln(app.out, e.ID)
				return nil
			})
		},
	}
}
