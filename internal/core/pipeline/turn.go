package pipeline

import (
	"context"
	"strings"
	"time"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/eventbus"
	"voxloop-server-go/internal/domain/tools"
	"voxloop-server-go/internal/domain/turn"
	"voxloop-server-go/internal/platform/errors"
	"voxloop-server-go/internal/util"
)

type turnOutcome struct {
	text     string
	rounds   int
	spoke    bool
	fallback bool
}

// runTurn executes the full turn protocol for one finalized utterance.
func (s *Session) runTurn(ctx context.Context, u utterance) {
	if err := s.convo.Append(conversation.UserMessage(u.text, u.at)); err != nil {
		s.publishError("context", err, false)
		_ = s.ctrl.OnProcessingDone()
		return
	}

	turnNo := int(s.turnCount.Add(1))
	s.publish(eventbus.TopicTurnStarted, eventbus.TurnStarted{
		SessionID: s.id,
		Turn:      turnNo,
		UserText:  u.text,
		At:        time.Now(),
	})

	gen := newPendingGeneration(ctx)
	s.setPending(gen)
	outcome := s.generate(gen.Context(), turnNo)
	s.setPending(nil)
	gen.Finish()

	interrupted := gen.Cancelled() && ctx.Err() == nil
	if interrupted {
		// partial text the user already heard stays in the log; unresolved
		// tool calls get synthetic failures so the log stays appendable
		s.resolveAbandonedCalls("generation interrupted by user speech")
		if outcome.text != "" {
			_ = s.convo.Append(conversation.AssistantText(outcome.text))
		}
		_ = s.ctrl.OnCancelAcknowledged()
	} else {
		s.resolveAbandonedCalls("generation ended before tool results")
		if outcome.text != "" {
			_ = s.convo.Append(conversation.AssistantText(outcome.text))
		}
		if outcome.spoke {
			_ = s.ctrl.OnPlaybackDone()
		} else {
			_ = s.ctrl.OnProcessingDone()
		}
	}

	s.publish(eventbus.TopicTurnEnded, eventbus.TurnEnded{
		SessionID:     s.id,
		Turn:          turnNo,
		AssistantText: outcome.text,
		Interrupted:   interrupted,
		ToolRounds:    outcome.rounds,
		At:            time.Now(),
	})

	s.maybeCompact()
}

// resolveAbandonedCalls closes out any tool calls that never got a result.
func (s *Session) resolveAbandonedCalls(reason string) {
	for _, id := range s.convo.PendingToolCalls() {
		_ = s.convo.Append(conversation.ToolFailure(id, "cancelled", reason))
	}
}

func (s *Session) maybeCompact() {
	if s.cfg.CompactAfterTurns <= 0 {
		return
	}
	if s.convo.TurnCount() <= s.cfg.CompactAfterTurns {
		return
	}
	keep := s.cfg.CompactKeepTurns
	if keep <= 0 {
		keep = 10
	}
	if err := s.convo.Compact(keep, "older turns were trimmed to bound context size"); err != nil {
		s.logWarn("[PIPELINE] compaction skipped: %v", err)
	} else {
		s.logInfo("[PIPELINE] context compacted to last %d turns", keep)
	}
}

// generate drives the bounded LLM/tool loop and speaks streamed text.
func (s *Session) generate(ctx context.Context, turnNo int) turnOutcome {
	var out turnOutcome
	cache := map[string]tools.Result{}
	specs := s.registry.Specs()

	for round := 0; ; round++ {
		text, calls, err := s.streamWithRetry(ctx, specs, turnNo, &out)
		if ctx.Err() != nil {
			out.text += text
			return out
		}
		if err != nil {
			out.text += text
			s.publishError("llm", err, false)
			s.speakFallback(ctx, &out)
			return out
		}

		if len(calls) == 0 {
			// closing text message is appended by runTurn
			out.text += text
			return out
		}

		// the model wants one round-trip more than the bound allows
		if round >= s.cfg.MaxToolRounds {
			out.text += text
			s.logWarn("[TOOL] loop bound reached after %d rounds", round)
			s.speakFallback(ctx, &out)
			return out
		}

		// text spoken during a tool round lives inside the tool-call message;
		// it must not be appended again as the closing assistant text
		msg := conversation.Message{
			Role:      conversation.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		}
		if err := s.convo.Append(msg); err != nil {
			out.text += text
			s.publishError("context", err, false)
			s.speakFallback(ctx, &out)
			return out
		}
		out.rounds++

		for _, call := range calls {
			if ctx.Err() != nil {
				return out
			}
			s.dispatchCall(ctx, turnNo, call, cache)
		}
	}
}

// dispatchCall executes one tool call, reusing the cached result when the
// model repeats a call id within the turn.
func (s *Session) dispatchCall(ctx context.Context, turnNo int, call conversation.ToolCall, cache map[string]tools.Result) {
	started := time.Now()
	res, cached := cache[call.ID]
	if !cached {
		res = s.registry.Execute(ctx, call.Name, call.Arguments)
		cache[call.ID] = res
	}

	s.publish(eventbus.TopicToolInvoked, eventbus.ToolInvoked{
		SessionID: s.id,
		Turn:      turnNo,
		CallID:    call.ID,
		Name:      call.Name,
		Failed:    res.Failed(),
		Cached:    cached,
		Elapsed:   time.Since(started),
	})
	s.logInfo("[TOOL] %s (%s) failed=%v cached=%v", call.Name, call.ID, res.Failed(), cached)

	var msg conversation.Message
	if res.Failed() {
		msg = conversation.ToolFailure(call.ID, res.Err.Kind, res.Err.Message)
	} else {
		msg = conversation.ToolResult(call.ID, res.Payload)
	}
	if err := s.convo.Append(msg); err != nil {
		s.publishError("context", err, false)
	}
}

// streamWithRetry wraps streamAttempt with bounded retries. Retrying is only
// safe before anything was spoken or any tool call surfaced.
func (s *Session) streamWithRetry(ctx context.Context, specs []tools.Spec, turnNo int, out *turnOutcome) (string, []conversation.ToolCall, error) {
	retries := s.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := time.Duration(s.cfg.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		text, calls, emitted, err := s.streamAttempt(ctx, specs, turnNo, out)
		if err == nil || ctx.Err() != nil {
			return text, calls, nil
		}
		lastErr = err
		if emitted {
			// the user heard part of this response; surface what we have
			return text, calls, err
		}
		if attempt < retries {
			s.logWarn("[LLM] attempt %d failed, retrying: %v", attempt+1, err)
			select {
			case <-ctx.Done():
				return "", nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return "", nil, lastErr
}

// streamAttempt runs one LLM stream, speaking sentence-sized segments as they
// complete.
func (s *Session) streamAttempt(ctx context.Context, specs []tools.Spec, turnNo int, out *turnOutcome) (string, []conversation.ToolCall, bool, error) {
	firstTokenTimeout := time.Duration(s.cfg.FirstTokenTimeoutMs) * time.Millisecond
	if firstTokenTimeout <= 0 {
		firstTokenTimeout = 8 * time.Second
	}

	ch, err := s.deps.LLM.Stream(ctx, s.convo.Snapshot(), specs)
	if err != nil {
		return "", nil, false, err
	}

	var (
		full    strings.Builder
		segment strings.Builder
		calls   []conversation.ToolCall
		emitted bool
	)

	timer := time.NewTimer(firstTokenTimeout)
	defer timer.Stop()
	first := true

	for {
		var chunk providers.Chunk
		var ok bool

		if first {
			select {
			case <-ctx.Done():
				return full.String(), calls, emitted, nil
			case <-timer.C:
				return "", nil, false, errors.New(errors.KindProvider, "llm.stream",
					"no token before timeout")
			case chunk, ok = <-ch:
			}
		} else {
			select {
			case <-ctx.Done():
				return full.String(), calls, emitted, nil
			case chunk, ok = <-ch:
			}
		}

		if !ok {
			break
		}
		if first {
			first = false
			timer.Stop()
		}
		if chunk.Err != nil {
			return full.String(), calls, emitted, chunk.Err
		}

		if chunk.Delta != "" {
			full.WriteString(chunk.Delta)
			segment.WriteString(chunk.Delta)
			s.publish(eventbus.TopicAssistantDelta, eventbus.AssistantDelta{
				SessionID: s.id,
				Turn:      turnNo,
				Text:      chunk.Delta,
			})
			if seg, n := util.SplitAtLastPunctuation(segment.String()); n > 0 {
				rest := string([]rune(segment.String())[n:])
				segment.Reset()
				segment.WriteString(rest)
				if util.IsSpeakable(seg) {
					if s.speak(ctx, seg, out) {
						emitted = true
					}
				}
			}
		}

		if len(chunk.ToolCalls) > 0 {
			calls = append(calls, chunk.ToolCalls...)
			emitted = true
		}
	}

	if tail := segment.String(); util.IsSpeakable(tail) && ctx.Err() == nil {
		if s.speak(ctx, tail, out) {
			emitted = true
		}
	}

	return full.String(), calls, emitted, nil
}

// speak synthesizes one text segment and streams the frames out. Returns
// whether any audio reached the channel.
func (s *Session) speak(ctx context.Context, text string, out *turnOutcome) bool {
	firstAudioTimeout := time.Duration(s.cfg.FirstAudioTimeoutMs) * time.Millisecond
	if firstAudioTimeout <= 0 {
		firstAudioTimeout = 5 * time.Second
	}

	frames, err := s.deps.TTS.Synthesize(ctx, text)
	if err != nil {
		s.publishError("tts", err, false)
		return false
	}
	s.logDebug("[TTS] synthesizing: %s", util.SanitizeForLog(text, 80))

	wrote := false
	timer := time.NewTimer(firstAudioTimeout)
	defer timer.Stop()
	first := true

	for {
		var frame audio.Frame
		var ok bool

		if first {
			select {
			case <-ctx.Done():
				return wrote
			case <-timer.C:
				s.publishError("tts", errors.New(errors.KindProvider, "tts.stream",
					"no audio before timeout"), false)
				return wrote
			case frame, ok = <-frames:
			}
		} else {
			select {
			case <-ctx.Done():
				return wrote
			case frame, ok = <-frames:
			}
		}

		if !ok {
			return wrote
		}
		if first {
			first = false
			timer.Stop()
		}

		frame.Seq = s.outSeq.Add(1)
		frame.Direction = audio.DirectionOutbound
		if err := s.channel.WriteFrame(ctx, frame); err != nil {
			if ctx.Err() == nil {
				s.publishError("transport", err, false)
			}
			return wrote
		}
		wrote = true
		if !out.spoke {
			out.spoke = true
			if err := s.ctrl.OnAssistantSpeaking(); err != nil {
				s.logDebug("[TURN] assistant speaking transition: %v", err)
			}
		}
	}
}

// speakFallback voices the configured apology when the turn cannot complete.
func (s *Session) speakFallback(ctx context.Context, out *turnOutcome) {
	out.fallback = true
	fallback := s.cfg.ToolFallback
	if fallback == "" {
		fallback = "Sorry, something went wrong. Could you try again?"
	}
	if ctx.Err() == nil {
		s.speak(ctx, fallback, out)
	}
	if out.text != "" {
		out.text += " "
	}
	out.text += fallback
}

// speakGreeting plays the configured greeting at session start. The greeting
// runs outside the turn protocol; user speech simply stops it.
func (s *Session) speakGreeting(ctx context.Context) {
	if err := s.convo.Append(conversation.AssistantText(s.cfg.Greeting)); err != nil {
		return
	}

	frames, err := s.deps.TTS.Synthesize(ctx, s.cfg.Greeting)
	if err != nil {
		s.publishError("tts", err, false)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if s.ctrl.State() != turn.StateIdle {
				_ = s.channel.Flush()
				return
			}
			frame.Seq = s.outSeq.Add(1)
			frame.Direction = audio.DirectionOutbound
			if err := s.channel.WriteFrame(ctx, frame); err != nil {
				return
			}
		}
	}
}
