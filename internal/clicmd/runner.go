// Package clicmd implements the clamban CLI's subcommand dispatch,
// generalizing the reference CLI's internal/cli.Runner (flag.FlagSet
// per subcommand, a top-level switch in Run) from tmux target/pane
// verbs onto clamban's board/task/team verbs.
package clicmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clamban/clamban/internal/api"
	"github.com/clamban/clamban/internal/cliclient"
)

type Runner struct {
	client *cliclient.Client
	out    io.Writer
	errOut io.Writer
}

func NewRunner(addr string, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{client: cliclient.New(addr), out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		r.printUsage()
		return 2
	}
	switch args[0] {
	case "board":
		return r.runBoard(ctx, args[1:])
	case "task":
		return r.runTask(ctx, args[1:])
	case "team":
		return r.runTeam(ctx, args[1:])
	case "events":
		return r.runEvents(ctx, args[1:])
	case "health":
		return r.runHealth(ctx, args[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", args[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: clamban <board|task|team|events|health> ...")
}

func (r *Runner) runBoard(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("board", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	b, err := r.client.Board(ctx)
	if err != nil {
		return r.fail(err)
	}
	return r.printJSON(b)
}

func (r *Runner) runTask(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: clamban task <list|search|create|patch|delete>")
		return 2
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("task list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		ids := fs.String("ids", "", "comma-separated task ids to fetch")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		if *ids == "" {
			_, _ = fmt.Fprintln(r.errOut, "error: -ids is required")
			return 2
		}
		tasks, err := r.client.ListTasks(ctx, strings.Split(*ids, ","))
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(tasks)

	case "search":
		fs := flag.NewFlagSet("task search", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		q := fs.String("q", "", "substring query")
		column := fs.String("column", "", "filter by column")
		limit := fs.Int("limit", 20, "max results")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		tasks, err := r.client.SearchTasks(ctx, *q, *column, *limit)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(tasks)

	case "create":
		fs := flag.NewFlagSet("task create", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		title := fs.String("title", "", "task title")
		column := fs.String("column", "", "target column")
		priority := fs.String("priority", "", "priority")
		taskType := fs.String("type", "", "task type")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		body := map[string]any{"title": *title, "column": *column, "priority": *priority, "type": *taskType}
		task, err := r.client.CreateTask(ctx, body)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(task)

	case "patch":
		fs := flag.NewFlagSet("task patch", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		id := fs.String("id", "", "task id")
		column := fs.String("column", "", "move to column")
		title := fs.String("title", "", "new title")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		if *id == "" {
			_, _ = fmt.Fprintln(r.errOut, "error: -id is required")
			return 2
		}
		body := map[string]any{}
		if *column != "" {
			body["column"] = *column
		}
		if *title != "" {
			body["title"] = *title
		}
		task, err := r.client.PatchTask(ctx, *id, body)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(task)

	case "delete":
		fs := flag.NewFlagSet("task delete", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		id := fs.String("id", "", "task id")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		if *id == "" {
			_, _ = fmt.Fprintln(r.errOut, "error: -id is required")
			return 2
		}
		if err := r.client.DeleteTask(ctx, *id); err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, "deleted")
		return 0

	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown task command: %s\n", args[0])
		return 2
	}
}

func (r *Runner) runTeam(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: clamban team <status|connect|disconnect|start|stop|logs|history|available>")
		return 2
	}
	switch args[0] {
	case "status":
		status, err := r.client.TeamStatus(ctx)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(status)

	case "connect":
		fs := flag.NewFlagSet("team connect", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		name := fs.String("name", "", "team name")
		projectDir := fs.String("project-dir", "", "project directory")
		model := fs.String("model", "", "agent model")
		maxTurns := fs.Int("max-turns", 0, "session turn budget")
		agentCmd := fs.String("agent-command", "", "agent executable")
		autoStart := fs.Bool("auto-start", false, "start a cycle immediately")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		err := r.client.ConnectTeam(ctx, api.ConnectTeamRequest{
			Name:         *name,
			ProjectDir:   *projectDir,
			Model:        *model,
			MaxTurns:     *maxTurns,
			AgentCommand: *agentCmd,
			AutoStart:    *autoStart,
		})
		if err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, "connected")
		return 0

	case "disconnect":
		if err := r.client.DisconnectTeam(ctx); err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, "disconnected")
		return 0

	case "start":
		if err := r.client.StartTeam(ctx); err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, "started")
		return 0

	case "stop":
		if err := r.client.StopTeam(ctx); err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, "stopping")
		return 0

	case "logs":
		fs := flag.NewFlagSet("team logs", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		lines := fs.Int("lines", 200, "number of tail lines")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		logs, err := r.client.TeamLogs(ctx, *lines)
		if err != nil {
			return r.fail(err)
		}
		_, _ = fmt.Fprintln(r.out, logs)
		return 0

	case "history":
		fs := flag.NewFlagSet("team history", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		limit := fs.Int("limit", 50, "max cycles to return")
		if err := fs.Parse(args[1:]); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		hist, err := r.client.TeamHistory(ctx, *limit)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(hist)

	case "available":
		teams, err := r.client.AvailableTeams(ctx)
		if err != nil {
			return r.fail(err)
		}
		return r.printJSON(teams)

	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown team command: %s\n", args[0])
		return 2
	}
}

func (r *Runner) runEvents(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	err := r.client.Events(ctx, func(evt api.SSEEvent) {
		_, _ = fmt.Fprintln(r.out, evt.Type)
	})
	if err != nil {
		return r.fail(err)
	}
	return 0
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	health, err := r.client.Health(ctx)
	if err != nil {
		return r.fail(err)
	}
	return r.printJSON(health)
}

func (r *Runner) fail(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 1
	}
	return 0
}
