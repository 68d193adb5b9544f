package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/sift/internal/platform/sqlite"
	"github.com/phrazzld/sift/internal/sortpool"
	"github.com/phrazzld/sift/internal/task"
)

var errNoPendingTask = errors.New("no pending task")

type taskAction func(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error

var taskActions = map[string]taskAction{
	"add":            addTasks,
	"take":           takeTask,
	"processed":      finishTask(task.StatusProcessed),
	"cancelled":      finishTask(task.StatusCancelled),
	"status":         showTask,
	"stats":          showStats,
	"list":           listTasks,
	"free-taken":     freeTasks("free-taken"),
	"free-cancelled": freeTasks("free-cancelled"),
	"free-stale":     freeTasks("free-stale"),
}

// tasksCommand runs one task store operation.
func (app *application) tasksCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: tasks needs an action", errUsage)
	}
	action, ok := taskActions[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown tasks action %q", errUsage, args[0])
	}

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	return action(ctx, app, store, args[1:])
}

func addTasks(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
	fs := app.newFlagSet("tasks add")
	detail := fs.String("detail", "", "detail stored with the new tasks")
	fromDir := fs.String("from-dir", "", "add every sortable file under this directory")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	names := fs.Args()
	if *fromDir != "" {
		files, err := sortpool.Discover(*fromDir, app.config.Sort.ExcludedDirs, app.config.Sort.ExcludedFiles, app.ownedPaths()...)
		if err != nil {
			return err
		}
		names = append(names, files...)
	}

	switch len(names) {
	case 0:
		return fmt.Errorf("%w: tasks add needs names or --from-dir", errUsage)
	case 1:
		if err := store.Add(ctx, names[0], *detail); err != nil {
			return err
		}
		fmt.Fprintln(app.stdout, "added=1")
	default:
		n, err := store.AddMany(ctx, names, *detail)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "added=%d skipped=%d\n", n, len(names)-n)
	}
	return nil
}

func takeTask(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
	fs := app.newFlagSet("tasks take")
	detail := fs.String("detail", "", "detail stored with the claim")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	name, ok, err := store.Take(ctx, *detail)
	if err != nil {
		return err
	}
	if !ok {
		return errNoPendingTask
	}
	fmt.Fprintln(app.stdout, name)
	return nil
}

func finishTask(to task.Status) taskAction {
	return func(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
		fs := app.newFlagSet("tasks " + strings.ToLower(string(to)))
		detail := fs.String("detail", "", "detail stored with the result")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: expected exactly one task name", errUsage)
		}

		name := fs.Arg(0)
		if to == task.StatusProcessed {
			return store.Processed(ctx, name, *detail)
		}
		return store.Cancelled(ctx, name, *detail)
	}
}

func showTask(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: expected exactly one task name", errUsage)
	}
	t, err := store.GetStatus(ctx, args[0])
	if err != nil {
		return err
	}
	return app.printJSON(t)
}

func showStats(ctx context.Context, app *application, store *sqlite.TaskStore, _ []string) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	for _, s := range task.AllStatuses {
		fmt.Fprintf(app.stdout, "%s=%d\n", s, stats[s])
	}
	fmt.Fprintf(app.stdout, "TOTAL=%d\n", stats.Total())
	return nil
}

func listTasks(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
	fs := app.newFlagSet("tasks list")
	statuses := fs.String("status", "", "comma-separated statuses to include")
	limit := fs.Int("limit", 0, "maximum number of tasks (0 for all)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	filter := task.ListFilter{Limit: *limit}
	for _, name := range splitList(*statuses) {
		s, err := task.ParseStatus(name)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, s)
	}

	tasks, err := store.ListAll(ctx, filter)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintf(app.stdout, "%s\t%s\t%s\n", t.Status, t.Name, t.Detail)
	}
	return nil
}

func freeTasks(action string) taskAction {
	return func(ctx context.Context, app *application, store *sqlite.TaskStore, args []string) error {
		fs := app.newFlagSet("tasks " + action)
		olderThan := fs.Duration("older-than", app.config.Store.StaleAfter, "age of a stale claim")
		if err := parseFlags(fs, args); err != nil {
			return err
		}

		var (
			n   int
			err error
		)
		switch action {
		case "free-taken":
			n, err = store.FreeTaken(ctx)
		case "free-cancelled":
			n, err = store.FreeCancelled(ctx)
		default:
			n, err = store.FreeStale(ctx, *olderThan)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "freed=%d\n", n)
		return nil
	}
}

func (app *application) printJSON(v any) error {
	enc := json.NewEncoder(app.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
