package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voxloop-server-go/internal/core/pipeline"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/core/providers/asr"
	"voxloop-server-go/internal/core/providers/llm"
	"voxloop-server-go/internal/core/providers/tts"
	"voxloop-server-go/internal/core/providers/vad"
	"voxloop-server-go/internal/domain/eventbus"
	"voxloop-server-go/internal/domain/tools"
	platformconfig "voxloop-server-go/internal/platform/config"
	platformerrors "voxloop-server-go/internal/platform/errors"
	platformlogging "voxloop-server-go/internal/platform/logging"
	httptransport "voxloop-server-go/internal/transport/http"
	"voxloop-server-go/internal/transport/ws"

	// adapter packages register their factories via init()
	_ "voxloop-server-go/internal/core/providers/asr/stream"
	_ "voxloop-server-go/internal/core/providers/llm/openai"
	_ "voxloop-server-go/internal/core/providers/tts/edge"
)

// Version is stamped at build time.
var Version = "dev"

const busWorkers = 4

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger
	bus        *eventbus.Bus
	sink       *eventbus.RedisSink
	factory    *SessionFactory
}

// Run drives the whole service lifecycle: configuration, dependency wiring,
// the two servers, and graceful shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	cfg := state.config
	logger := state.logger
	if cfg == nil || logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"bootstrap state validation", "config/logger not initialised")
	}

	logBootstrapGraph(steps, logger)

	defer func() {
		if state.sink != nil {
			state.sink.Detach(state.bus)
			_ = state.sink.Close()
		}
		if state.bus != nil {
			state.bus.Close()
		}
		_ = logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	return waitForShutdown(signalCtx, cancel, logger, group)
}

// InitGraph declares the initialisation order; dependencies are validated at
// run time so a reordering mistake fails loudly.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "events:init-bus",
			Title:     "Initialise event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "providers:init-factory",
			Title:     "Initialise session factory",
			DependsOn: []string{"logging:init-provider", "events:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionFactoryStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(platformerrors.KindBootstrap, step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep))
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID,
				"missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if stderrors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("BOOT", "initialisation order")
	for _, step := range steps {
		logger.InfoTag("BOOT", "  %s: %s", step.ID, step.Title)
	}
}

// ---- init steps ----

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults+env"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"logging:init-provider", "config not loaded")
	}
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap,
			"logging:init-provider", "initialise logging", err)
	}
	state.logger = logger
	logger.InfoTag("BOOT", "logging ready [%s] config=%s",
		state.config.Log.Level, state.configPath)
	return nil
}

func initEventBusStep(ctx context.Context, state *appState) error {
	state.bus = eventbus.New(busWorkers)

	redisCfg := state.config.Events.Redis
	if !redisCfg.Enabled {
		return nil
	}

	sink, err := eventbus.NewRedisSink(ctx, eventbus.SinkConfig{
		Addr:     redisCfg.Addr,
		Username: redisCfg.Username,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
		Key:      redisCfg.Key,
		MaxLen:   redisCfg.MaxLen,
	})
	if err != nil {
		return err
	}
	if err := sink.Attach(state.bus); err != nil {
		_ = sink.Close()
		return err
	}
	state.sink = sink
	state.logger.InfoTag("EVENTS", "redis sink attached at %s", redisCfg.Addr)
	return nil
}

func initSessionFactoryStep(_ context.Context, state *appState) error {
	factory, err := NewSessionFactory(state.config, state.bus, state.logger)
	if err != nil {
		return err
	}
	state.factory = factory
	return nil
}

// ---- session factory ----

// SessionFactory builds one pipeline session per websocket connection. The
// language model and synthesizer are request scoped and shared; the
// recognizer and voice detector keep per-session state, so fresh instances
// are created for every connection.
type SessionFactory struct {
	cfg    *platformconfig.Config
	bus    *eventbus.Bus
	logger *platformlogging.Logger

	languageModel providers.LanguageModel
	synthesizer   providers.SpeechSynthesizer
}

func NewSessionFactory(cfg *platformconfig.Config, bus *eventbus.Bus, logger *platformlogging.Logger) (*SessionFactory, error) {
	llmCfg, ok := cfg.LLM[cfg.Selected.LLM]
	if !ok {
		return nil, platformerrors.New(platformerrors.KindConfig,
			"providers:init-factory",
			fmt.Sprintf("selected LLM %q has no config block", cfg.Selected.LLM))
	}
	languageModel, err := llm.Create(llmCfg)
	if err != nil {
		return nil, err
	}

	ttsCfg, ok := cfg.TTS[cfg.Selected.TTS]
	if !ok {
		return nil, platformerrors.New(platformerrors.KindConfig,
			"providers:init-factory",
			fmt.Sprintf("selected TTS %q has no config block", cfg.Selected.TTS))
	}
	synthesizer, err := tts.Create(ttsCfg)
	if err != nil {
		return nil, err
	}

	// fail fast on bad recognizer/detector selection even though instances
	// are created per session
	if _, ok := cfg.ASR[cfg.Selected.ASR]; !ok {
		return nil, platformerrors.New(platformerrors.KindConfig,
			"providers:init-factory",
			fmt.Sprintf("selected ASR %q has no config block", cfg.Selected.ASR))
	}
	if _, ok := cfg.VAD[cfg.Selected.VAD]; !ok {
		return nil, platformerrors.New(platformerrors.KindConfig,
			"providers:init-factory",
			fmt.Sprintf("selected VAD %q has no config block", cfg.Selected.VAD))
	}

	return &SessionFactory{
		cfg:           cfg,
		bus:           bus,
		logger:        logger,
		languageModel: languageModel,
		synthesizer:   synthesizer,
	}, nil
}

// Start satisfies the websocket server's session starter contract.
func (f *SessionFactory) Start(ctx context.Context, channel providers.AudioChannel) (*pipeline.Session, error) {
	recognizer, err := asr.Create(f.cfg.ASR[f.cfg.Selected.ASR])
	if err != nil {
		return nil, err
	}
	detector, err := vad.Create(f.cfg.VAD[f.cfg.Selected.VAD])
	if err != nil {
		return nil, err
	}

	orch := pipeline.NewOrchestrator(f.cfg.Session, pipeline.Deps{
		LLM:        f.languageModel,
		TTS:        f.synthesizer,
		ASR:        recognizer,
		VAD:        detector,
		Bus:        f.bus,
		Logger:     f.logger,
		Registrars: []func(*tools.Registry) error{tools.RegisterBuiltins},
	})
	return orch.Start(ctx, channel)
}

// ---- servers ----

func startServices(state *appState, group *errgroup.Group, groupCtx context.Context) error {
	cfg := state.config
	logger := state.logger

	wsServer := ws.NewServer(ws.ServerConfig{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port),
		Path: cfg.Server.Path,
	}, state.factory, logger)

	group.Go(func() error {
		return wsServer.Start(groupCtx)
	})

	if cfg.Web.Enabled {
		router, err := httptransport.Build(httptransport.Options{
			Config: cfg,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		httptransport.NewService(wsServer.Hub(), Version).Register(router)

		httpServer := httptransport.NewServer(router, cfg.Web.Port, logger)
		group.Go(func() error {
			return httpServer.Start(groupCtx)
		})
	}

	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	group *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
		return nil
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return platformerrors.New(platformerrors.KindBootstrap,
			"bootstrap shutdown", "shutdown timed out")
	}
}
