package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/tools"
	"voxloop-server-go/internal/domain/turn"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
	"voxloop-server-go/internal/util"
)

type utterance struct {
	text string
	at   time.Time
}

// Session is one live conversation. Four goroutines cooperate: readLoop pulls
// frames off the transport, ingestLoop runs VAD and endpointing, transcriptLoop
// turns recognizer events into utterances, and turnLoop runs the LLM/tool/TTS
// protocol one turn at a time.
type Session struct {
	id       string
	cfg      config.SessionConfig
	deps     Deps
	channel  providers.AudioChannel
	convo    *conversation.Context
	registry *tools.Registry
	ctrl     *turn.Controller
	buffer   *audio.Buffer

	utterances chan utterance

	group  *errgroup.Group
	cancel context.CancelFunc

	tracker audio.SeqTracker
	outSeq  atomic.Uint64

	pendingMu sync.Mutex
	pending   *PendingGeneration

	utteranceSeq atomic.Int64
	turnCount    atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current turn-taking state.
func (s *Session) State() turn.State { return s.ctrl.State() }

// Context exposes the conversation log, mainly for inspection and tests.
func (s *Session) Context() *conversation.Context { return s.convo }

// Wait blocks until all session goroutines exit.
func (s *Session) Wait() error {
	return s.group.Wait()
}

// Stop tears the session down. Idempotent.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.cancelPending()
		s.cancel()
		s.buffer.Close()
		_ = s.deps.ASR.Stop()
		_ = s.channel.Close()
		s.stopErr = s.group.Wait()
		s.logInfo("[PIPELINE] session %s stopped", s.id)
	})
	return s.stopErr
}

// ---- barge-in ----

// onInterrupt runs when the controller enters Interrupted. It cancels the
// generation and flushes outbound audio synchronously so playback stops
// within the barge-in deadline; the turn goroutine acknowledges once unwound.
func (s *Session) onInterrupt(from turn.State) {
	s.logInfo("[TURN] barge-in during %s", from)
	s.cancelPending()
	if err := s.channel.Flush(); err != nil {
		s.logWarn("[TURN] flush after barge-in: %v", err)
	}
	s.deps.VAD.Reset()
}

func (s *Session) setPending(p *PendingGeneration) {
	s.pendingMu.Lock()
	s.pending = p
	s.pendingMu.Unlock()
}

func (s *Session) cancelPending() {
	s.pendingMu.Lock()
	p := s.pending
	s.pendingMu.Unlock()
	if p != nil {
		p.Cancel()
	}
}

// ---- stage goroutines ----

// readLoop moves frames from the transport into the bounded buffer. A
// transport error ends the session.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		frame, err := s.channel.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.publishError("transport", err, true)
			s.cancel()
			return errors.Wrap(errors.KindTransport, "read_loop", "read frame", err)
		}
		if skipped, stale := s.tracker.Observe(frame.Seq); stale {
			continue
		} else if skipped > 0 {
			s.logWarn("[PIPELINE] inbound gap: %d frames lost before seq %d", skipped, frame.Seq)
		}
		if !s.buffer.Push(frame) {
			return nil
		}
	}
}

// ingestLoop drains the buffer, classifies speech, drives turn-taking and
// feeds the recognizer.
func (s *Session) ingestLoop(ctx context.Context) error {
	endpointSilence := time.Duration(s.cfg.EndpointSilenceMs) * time.Millisecond
	if endpointSilence <= 0 {
		endpointSilence = 700 * time.Millisecond
	}
	sttTimeout := time.Duration(s.cfg.FirstTokenTimeoutMs) * time.Millisecond
	if sttTimeout <= 0 {
		sttTimeout = 8 * time.Second
	}

	var (
		speaking      bool
		lastSpeech    time.Time
		endpointAt    time.Time
		seqAtEndpoint int64
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		frame, ok := s.buffer.Pop()
		if !ok {
			if s.buffer.Closed() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-s.buffer.Wait():
			case <-ticker.C:
			}

			now := time.Now()
			if speaking && now.Sub(lastSpeech) > endpointSilence {
				speaking = false
				if s.ctrl.State() == turn.StateUserSpeaking {
					if err := s.ctrl.OnEndOfUtterance(); err == nil {
						endpointAt = now
						seqAtEndpoint = s.utteranceSeq.Load()
					}
				}
			}
			// recognizer hang: endpointed but no final transcript arrived
			if !endpointAt.IsZero() && s.ctrl.State() == turn.StateProcessing &&
				s.utteranceSeq.Load() == seqAtEndpoint && now.Sub(endpointAt) > sttTimeout {
				s.publishError("asr", errors.New(errors.KindProvider, "ingest",
					"no final transcript after endpoint"), false)
				_ = s.ctrl.OnProcessingDone()
				endpointAt = time.Time{}
			}
			continue
		}

		if s.deps.VAD.IsSpeech(frame.PCM) {
			s.ctrl.OnSpeech()
			speaking = true
			lastSpeech = time.Now()
			endpointAt = time.Time{}
		}

		if err := s.deps.ASR.Feed(ctx, frame); err != nil && ctx.Err() == nil {
			s.publishError("asr", err, false)
		}
	}
}

// transcriptLoop converts recognizer events into finalized utterances.
func (s *Session) transcriptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.deps.ASR.Events():
			if !ok {
				return nil
			}
			if !ev.Final {
				s.logDebug("[ASR] partial: %s", util.SanitizeForLog(ev.Text, 80))
				continue
			}
			text := util.RemoveControlCharacters(ev.Text)
			if !util.IsSpeakable(text) {
				continue
			}
			s.logInfo("[ASR] final: %s", util.SanitizeForLog(text, 120))
			s.utteranceSeq.Add(1)
			s.advanceToProcessing(ctx)
			select {
			case s.utterances <- utterance{text: text, at: ev.At}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// advanceToProcessing nudges the controller so a finalized transcript opens a
// turn regardless of whether silence endpointing fired first. During an
// interrupt it waits for the turn goroutine to acknowledge cancellation; no
// new generation may start before that.
func (s *Session) advanceToProcessing(ctx context.Context) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		switch s.ctrl.State() {
		case turn.StateUserSpeaking:
			_ = s.ctrl.OnEndOfUtterance()
			return
		case turn.StateProcessing:
			return
		case turn.StateIdle:
			// utterance finalized without VAD ever firing; open and close the
			// speech phase explicitly
			s.ctrl.OnSpeech()
			continue
		case turn.StateInterrupted, turn.StateAgentSpeaking:
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// turnLoop runs one turn at a time off the utterance queue.
func (s *Session) turnLoop(ctx context.Context) error {
	if s.cfg.Greeting != "" {
		s.speakGreeting(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-s.utterances:
			s.runTurn(ctx, u)
		}
	}
}
