package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/eventbus"
	"voxloop-server-go/internal/domain/tools"
	"voxloop-server-go/internal/domain/turn"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
	"voxloop-server-go/internal/platform/logging"
)

// Deps are the collaborators a session is built from. The orchestrator treats
// them as opaque interfaces; concrete providers come from the factory
// registries at bootstrap.
type Deps struct {
	LLM        providers.LanguageModel
	TTS        providers.SpeechSynthesizer
	ASR        providers.SpeechRecognizer
	VAD        providers.VoiceDetector
	Bus        *eventbus.Bus
	Logger     *logging.Logger
	Registrars []func(*tools.Registry) error
}

// Orchestrator builds and runs conversation sessions.
type Orchestrator struct {
	cfg  config.SessionConfig
	deps Deps
}

func NewOrchestrator(cfg config.SessionConfig, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, deps: deps}
}

// validate rejects incomplete wiring before any goroutine starts.
func (o *Orchestrator) validate(channel providers.AudioChannel) error {
	var missing []string
	if channel == nil {
		missing = append(missing, "audio channel")
	}
	if o.deps.LLM == nil {
		missing = append(missing, "language model")
	}
	if o.deps.TTS == nil {
		missing = append(missing, "speech synthesizer")
	}
	if o.deps.ASR == nil {
		missing = append(missing, "speech recognizer")
	}
	if o.deps.VAD == nil {
		missing = append(missing, "voice detector")
	}
	if o.cfg.MaxToolRounds <= 0 {
		missing = append(missing, "positive max_tool_rounds")
	}
	if len(missing) > 0 {
		msg := "session needs: " + missing[0]
		for _, m := range missing[1:] {
			msg += ", " + m
		}
		return errors.New(errors.KindConfig, "pipeline.start", msg)
	}
	return nil
}

// Start validates configuration, seeds the conversation and spawns the
// session's stage goroutines. The returned session runs until Stop, a fatal
// transport error, or ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context, channel providers.AudioChannel) (*Session, error) {
	if err := o.validate(channel); err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	for _, register := range o.deps.Registrars {
		if err := register(registry); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "pipeline.start",
				"register tools", err)
		}
	}
	registry.Freeze()

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		id:         uuid.NewString(),
		cfg:        o.cfg,
		deps:       o.deps,
		channel:    channel,
		convo:      conversation.New(o.cfg.SystemPrompt),
		registry:   registry,
		ctrl:       turn.NewController(),
		buffer:     audio.NewBuffer(o.cfg.AudioBufferFrames),
		utterances: make(chan utterance, 4),
		cancel:     cancel,
	}

	s.ctrl.SetInterruptHook(s.onInterrupt)
	s.ctrl.SetStateChangeHook(func(from, to turn.State) {
		s.publish(eventbus.TopicTurnState, eventbus.StateChanged{
			SessionID: s.id,
			From:      string(from),
			To:        string(to),
			At:        time.Now(),
		})
	})

	if err := o.deps.ASR.Start(sessionCtx); err != nil {
		cancel()
		return nil, errors.Wrap(errors.KindProvider, "pipeline.start",
			"start recognizer", err)
	}

	group, groupCtx := errgroup.WithContext(sessionCtx)
	s.group = group

	group.Go(func() error { return s.readLoop(groupCtx) })
	group.Go(func() error { return s.ingestLoop(groupCtx) })
	group.Go(func() error { return s.transcriptLoop(groupCtx) })
	group.Go(func() error { return s.turnLoop(groupCtx) })

	s.logInfo("[PIPELINE] session %s started", s.id)
	return s, nil
}
