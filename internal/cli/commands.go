package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/PipeOpsHQ/quiz-agent/agent"
	"github.com/PipeOpsHQ/quiz-agent/internal/config"
	"github.com/PipeOpsHQ/quiz-agent/internal/mcpserver"
	"github.com/PipeOpsHQ/quiz-agent/internal/server"
	"github.com/PipeOpsHQ/quiz-agent/state"
	statefactory "github.com/PipeOpsHQ/quiz-agent/state/factory"
	"github.com/PipeOpsHQ/quiz-agent/tools"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := buildDeps(ctx, cfg, logger, depsOptions{requireAPI: true, withState: true})
	if err != nil {
		return err
	}
	defer d.Close()

	session, err := d.session("")
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		Addr:            cfg.HTTPAddr,
		AppName:         cfg.AppName,
		Secret:          cfg.UserSecret,
		Solver:          session,
		StateStore:      d.store,
		TraceStore:      d.traces,
		SolveTimeout:    cfg.SolveTimeout,
		RatePerMinute:   cfg.RatePerMinute,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func solve(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	opts, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(positional) != 1 || strings.TrimSpace(positional[0]) == "" {
		return errors.New("usage: quiz-agent solve [--model=M] <quiz-url>")
	}

	d, err := buildDeps(ctx, cfg, logger, depsOptions{requireAPI: true, withState: true})
	if err != nil {
		return err
	}
	defer d.Close()

	session, err := d.session(opts.model)
	if err != nil {
		return err
	}
	if cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SolveTimeout)
		defer cancel()
	}
	res := session.SolveQuiz(ctx, agent.QuizRequest{
		Email:  cfg.UserEmail,
		Secret: cfg.UserSecret,
		URL:    strings.TrimSpace(positional[0]),
	})

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != types.RunCompleted {
		return fmt.Errorf("solve finished with status %s", res.Status)
	}
	return nil
}

func serveMCP(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := buildDeps(ctx, cfg, logger, depsOptions{})
	if err != nil {
		return err
	}
	defer d.Close()

	exOpts := append(d.extractorOptions(), tools.WithCache(tools.NewResourceCache()))
	srv, err := mcpserver.Build(tools.NewToolset(tools.NewExtractor(exOpts...)), logger)
	if err != nil {
		return err
	}
	logger.Info("mcp server ready on stdio", "tools", len(tools.Names()))
	return mcpserver.ServeStdio(ctx, srv)
}

func listRuns(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	opts, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	store, err := statefactory.New(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	if store == nil {
		return errors.New("run history is disabled (STATE_BACKEND=none)")
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, state.ListRunsQuery{Email: opts.email, Status: opts.status, Limit: opts.limit})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	return writeRuns(stdout, runs)
}

func writeRuns(w io.Writer, runs []state.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRUN\tSTATUS\tEMAIL\tURL\tTOOLS\tUPDATED")
	for _, run := range runs {
		updated := "-"
		if run.UpdatedAt != nil {
			updated = run.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run.ID, dash(run.RunID), run.Status, dash(run.Email), dash(run.QuizURL), len(run.ToolCalls), updated)
	}
	return tw.Flush()
}

func listTools(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tools.Definitions())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
