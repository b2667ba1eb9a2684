package cli

import (
	"context"
	"fmt"
	"log/slog"

	otelglobal "go.opentelemetry.io/otel"

	"github.com/PipeOpsHQ/quiz-agent/agent"
	"github.com/PipeOpsHQ/quiz-agent/internal/config"
	"github.com/PipeOpsHQ/quiz-agent/llm"
	"github.com/PipeOpsHQ/quiz-agent/observe"
	quizotel "github.com/PipeOpsHQ/quiz-agent/observe/otel"
	observestore "github.com/PipeOpsHQ/quiz-agent/observe/store"
	tracesqlite "github.com/PipeOpsHQ/quiz-agent/observe/store/sqlite"
	providerfactory "github.com/PipeOpsHQ/quiz-agent/providers/factory"
	"github.com/PipeOpsHQ/quiz-agent/providers/openai"
	"github.com/PipeOpsHQ/quiz-agent/state"
	statefactory "github.com/PipeOpsHQ/quiz-agent/state/factory"
	"github.com/PipeOpsHQ/quiz-agent/tools"
)

// deps holds everything a subcommand may need. Close releases it in reverse
// order of construction.
type deps struct {
	cfg      config.Config
	logger   *slog.Logger
	client   *openai.Client
	vision   llm.Vision
	store    state.Store
	traces   observestore.Store
	observer observe.Sink
	closers  []func()
}

type depsOptions struct {
	requireAPI bool
	withState  bool
}

func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger, opts depsOptions) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	pcfg := providerfactory.Config{
		OpenAIKey:          cfg.OpenAIKey,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		OpenAIFilesBaseURL: cfg.OpenAIFilesBaseURL,
		OpenAIModel:        cfg.OpenAIModel,
		OpenAIMaxRetries:   cfg.OpenAIMaxRetries,
		VisionBackend:      cfg.VisionBackend,
		GeminiKey:          cfg.GeminiKey,
		GeminiModel:        cfg.GeminiModel,
	}
	if cfg.OpenAIKey != "" || opts.requireAPI {
		client, err := providerfactory.Assistants(pcfg, logger)
		if err != nil {
			return nil, err
		}
		d.client = client
	}
	vision, err := providerfactory.Vision(ctx, pcfg, d.client)
	switch {
	case err == nil:
		d.vision = vision
	case opts.requireAPI:
		return nil, err
	default:
		logger.Warn("image tools disabled", "error", err)
	}

	if opts.withState {
		store, err := statefactory.New(ctx, cfg.State)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		if store != nil {
			d.store = store
			d.closers = append(d.closers, func() {
				if err := store.Close(); err != nil {
					logger.Warn("state store close failed", "error", err)
				}
			})
		}
	}

	sinks := []observe.Sink{observe.NewLogSink(logger)}
	if cfg.TraceDBPath != "" {
		traces, err := tracesqlite.New(cfg.TraceDBPath)
		if err != nil {
			return nil, fmt.Errorf("open trace store: %w", err)
		}
		async := observe.NewAsyncSink(observestore.Sink(traces), 512)
		d.traces = traces
		sinks = append(sinks, async)
		d.closers = append(d.closers, func() {
			async.Close()
			_ = traces.Close()
		})
	}
	if cfg.OTelEnabled {
		tp := quizotel.NewTracerProvider(logger)
		otelglobal.SetTracerProvider(tp)
		sinks = append(sinks, quizotel.NewSink(tp))
		d.closers = append(d.closers, func() { _ = tp.Shutdown(context.Background()) })
	}
	d.observer = observe.NewMultiSink(sinks...)

	ok = true
	return d, nil
}

func (d *deps) Close() {
	if d == nil {
		return
	}
	closeQuietly(d.closers)
	d.closers = nil
}

func (d *deps) extractorOptions() []tools.ExtractorOption {
	opts := []tools.ExtractorOption{
		tools.WithLogger(d.logger),
		tools.WithRenderer(tools.NewBrowserRenderer(
			tools.WithExecPath(d.cfg.ChromePath),
			tools.WithSettle(d.cfg.RenderSettle),
			tools.WithBrowserLogger(d.logger),
		)),
	}
	if d.client != nil {
		opts = append(opts, tools.WithFileStore(d.client), tools.WithTranscriber(d.client))
	}
	if d.vision != nil {
		opts = append(opts, tools.WithVision(d.vision))
	}
	return opts
}

func (d *deps) session(model string) (*agent.Session, error) {
	if model == "" {
		model = d.cfg.OpenAIModel
	}
	return agent.NewSession(d.client, d.client,
		agent.WithModel(model),
		agent.WithExtractorOptions(d.extractorOptions()...),
		agent.WithDriverOptions(
			agent.WithPollInterval(d.cfg.PollInterval),
			agent.WithMaxToolOutput(d.cfg.MaxToolOutput),
			agent.WithObserver(d.observer),
		),
		agent.WithStore(d.store),
		agent.WithSessionLogger(d.logger),
	)
}
