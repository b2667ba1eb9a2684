// Package cli wires configuration, providers and stores into the
// quiz-agent subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PipeOpsHQ/quiz-agent/internal/config"
	"github.com/PipeOpsHQ/quiz-agent/internal/logging"
)

func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return nil
	}

	cmd, rest := strings.TrimSpace(args[0]), args[1:]
	switch cmd {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "tools":
		return listTools(stdout)
	case "serve", "solve", "mcp", "runs":
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "solve":
		return solve(ctx, cfg, logger, rest, stdout)
	case "mcp":
		return serveMCP(ctx, cfg, logger)
	default:
		return listRuns(ctx, cfg, rest, stdout)
	}
}
