package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/eventbus"
	"voxloop-server-go/internal/domain/tools"
	"voxloop-server-go/internal/domain/turn"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		SystemPrompt:        "You are a test assistant.",
		MaxToolRounds:       5,
		ToolFallback:        "Sorry, I could not finish that.",
		EndpointSilenceMs:   30,
		FirstTokenTimeoutMs: 2000,
		FirstAudioTimeoutMs: 2000,
		MaxRetries:          1,
		RetryBackoffMs:      10,
		AudioBufferFrames:   32,
		CompactAfterTurns:   0,
	}
}

type testRig struct {
	channel *mockChannel
	asr     *mockASR
	llm     *mockLLM
	tts     *mockTTS
	session *Session
}

func startSession(t *testing.T, cfg config.SessionConfig, llm *mockLLM, tts *mockTTS, registrars ...func(*tools.Registry) error) *testRig {
	t.Helper()

	channel := newMockChannel()
	asr := newMockASR()
	if tts == nil {
		tts = &mockTTS{}
	}

	orch := NewOrchestrator(cfg, Deps{
		LLM:        llm,
		TTS:        tts,
		ASR:        asr,
		VAD:        mockVAD{},
		Registrars: registrars,
	})

	session, err := orch.Start(context.Background(), channel)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = session.Stop() })

	return &testRig{channel: channel, asr: asr, llm: llm, tts: tts, session: session}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lastAssistantText(snap []conversation.Message) string {
	for i := len(snap) - 1; i >= 0; i-- {
		if snap[i].Role == conversation.RoleAssistant && len(snap[i].ToolCalls) == 0 {
			return snap[i].Content
		}
	}
	return ""
}

func TestOrchestrator_ValidatesDependencies(t *testing.T) {
	orch := NewOrchestrator(testSessionConfig(), Deps{})
	_, err := orch.Start(context.Background(), nil)
	if !errors.IsKind(err, errors.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	for _, want := range []string{"audio channel", "language model", "speech synthesizer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name %q: %v", want, err)
		}
	}
}

// Scenario: a plain question gets a streamed, spoken answer with ordered
// outbound frames and a well-formed conversation log.
func TestSession_SimpleTurn(t *testing.T) {
	llm := &mockLLM{script: []scriptedResponse{
		{chunks: textChunks("The answer", " is four. ", "Anything else?")},
	}}
	rig := startSession(t, testSessionConfig(), llm, nil)

	rig.asr.finalize("what is two plus two")

	waitFor(t, 2*time.Second, "turn to complete", func() bool {
		return rig.session.State() == turn.StateIdle && rig.session.Context().TurnCount() == 1
	})

	snap := rig.session.Context().Snapshot()
	if snap[1].Role != conversation.RoleUser || snap[1].Content != "what is two plus two" {
		t.Fatalf("user message wrong: %+v", snap[1])
	}
	got := lastAssistantText(snap)
	if !strings.Contains(got, "is four") {
		t.Errorf("assistant text = %q", got)
	}

	frames := rig.channel.writtenFrames()
	if len(frames) == 0 {
		t.Fatal("no audio written")
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Seq <= frames[i-1].Seq {
			t.Fatalf("outbound seq not strictly increasing at %d: %d <= %d",
				i, frames[i].Seq, frames[i-1].Seq)
		}
	}

	segments := rig.tts.spokenSegments()
	if len(segments) < 2 {
		t.Errorf("expected sentence-chunked synthesis, got %v", segments)
	}
}

// Scenario: the model calls a tool, receives the result, then answers.
func TestSession_ToolCallTurn(t *testing.T) {
	llm := &mockLLM{script: []scriptedResponse{
		{chunks: []providers.Chunk{toolCallChunk("call-1", "add", `{"a":2,"b":2}`)}},
		{chunks: textChunks("Two plus two is four.")},
	}}
	rig := startSession(t, testSessionConfig(), llm, nil, tools.RegisterBuiltins)

	rig.asr.finalize("add two and two")

	waitFor(t, 2*time.Second, "turn to complete", func() bool {
		return rig.session.State() == turn.StateIdle && llm.streamCalls() >= 2
	})

	snap := rig.session.Context().Snapshot()
	var sawCalls, sawResult bool
	for _, msg := range snap {
		if msg.Role == conversation.RoleAssistant && len(msg.ToolCalls) > 0 {
			sawCalls = true
			if msg.ToolCalls[0].Name != "add" {
				t.Errorf("tool call name = %q", msg.ToolCalls[0].Name)
			}
		}
		if msg.Role == conversation.RoleTool && msg.ToolCallID == "call-1" {
			sawResult = true
			if !strings.Contains(msg.Content, "4") {
				t.Errorf("tool result = %q", msg.Content)
			}
		}
	}
	if !sawCalls || !sawResult {
		t.Fatalf("log missing tool round: calls=%v result=%v\n%+v", sawCalls, sawResult, snap)
	}
	if got := lastAssistantText(snap); !strings.Contains(got, "four") {
		t.Errorf("final text = %q", got)
	}
	if n := len(rig.session.Context().PendingToolCalls()); n != 0 {
		t.Errorf("pending calls after turn = %d", n)
	}
}

// Scenario: text streamed alongside a tool call is recorded once, on the
// tool-call message, and never repeated in the closing answer.
func TestSession_ToolRoundTextRecordedOnce(t *testing.T) {
	llm := &mockLLM{script: []scriptedResponse{
		{chunks: []providers.Chunk{
			{Delta: "Let me check that. "},
			toolCallChunk("c1", "add", `{"a":2,"b":2}`),
		}},
		{chunks: textChunks("Two plus two is four.")},
	}}
	rig := startSession(t, testSessionConfig(), llm, nil, tools.RegisterBuiltins)

	rig.asr.finalize("add two and two")

	waitFor(t, 2*time.Second, "turn to complete", func() bool {
		return rig.session.State() == turn.StateIdle && llm.streamCalls() >= 2
	})

	snap := rig.session.Context().Snapshot()
	occurrences := 0
	for _, msg := range snap {
		if msg.Role == conversation.RoleAssistant && strings.Contains(msg.Content, "Let me check") {
			occurrences++
			if len(msg.ToolCalls) == 0 {
				t.Errorf("tool-round text leaked into a plain assistant message: %+v", msg)
			}
		}
	}
	if occurrences != 1 {
		t.Errorf("tool-round text recorded in %d messages, want 1", occurrences)
	}
	if got := lastAssistantText(snap); got != "Two plus two is four." {
		t.Errorf("closing text = %q", got)
	}
}

// Scenario: the user interrupts mid-playback; generation is cancelled, the
// outbound queue flushed, and the next utterance starts a clean turn.
func TestSession_BargeIn(t *testing.T) {
	llm := &mockLLM{script: []scriptedResponse{
		{chunks: textChunks("Let me tell you a very long story. ",
			"It goes on. ", "And on. ", "And on and on. "), delay: 20 * time.Millisecond},
		{chunks: textChunks("Sure, changing topic.")},
	}}
	tts := &mockTTS{frameCount: 30, frameDelay: 10 * time.Millisecond}
	rig := startSession(t, testSessionConfig(), llm, tts)

	rig.asr.finalize("tell me a story")

	waitFor(t, 2*time.Second, "agent to start speaking", func() bool {
		return rig.session.State() == turn.StateAgentSpeaking
	})

	bargeAt := time.Now()
	rig.channel.in <- speechFrame(1)

	waitFor(t, time.Second, "flush after barge-in", func() bool {
		return rig.channel.flushCount() > 0
	})
	if elapsed := time.Since(bargeAt); elapsed > 300*time.Millisecond {
		t.Errorf("cancellation took %v, budget is 300ms", elapsed)
	}

	waitFor(t, time.Second, "cancellation acknowledged", func() bool {
		return rig.session.State() == turn.StateUserSpeaking
	})

	// the interrupted turn's audio must stop promptly
	time.Sleep(50 * time.Millisecond)
	n := len(rig.channel.writtenFrames())
	time.Sleep(100 * time.Millisecond)
	if after := len(rig.channel.writtenFrames()); after > n {
		t.Errorf("audio kept flowing after barge-in: %d -> %d", n, after)
	}

	// the interrupting utterance becomes the next turn
	rig.asr.finalize("actually, different question")
	waitFor(t, 2*time.Second, "second turn", func() bool {
		return rig.session.Context().TurnCount() == 2 && rig.session.State() == turn.StateIdle
	})
}

// Scenario: the model loops on tool calls; the bound trips and the user hears
// the fallback instead of the session dying.
func TestSession_ToolLoopBound(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxToolRounds = 3

	invocations := 0
	var mu sync.Mutex
	registrar := func(r *tools.Registry) error {
		return r.Register(tools.Spec{Name: "step", Schema: tools.ObjectSchema(nil)},
			func(context.Context, map[string]interface{}) (interface{}, error) {
				mu.Lock()
				invocations++
				n := invocations
				mu.Unlock()
				return map[string]interface{}{"n": n}, nil
			})
	}

	llm := &mockLLM{script: []scriptedResponse{
		{chunks: []providers.Chunk{toolCallChunk("c1", "step", `{}`)}},
		{chunks: []providers.Chunk{toolCallChunk("c2", "step", `{}`)}},
		{chunks: []providers.Chunk{toolCallChunk("c3", "step", `{}`)}},
		{chunks: []providers.Chunk{toolCallChunk("c4", "step", `{}`)}},
	}}
	rig := startSession(t, cfg, llm, nil, registrar)

	rig.asr.finalize("loop forever")

	waitFor(t, 3*time.Second, "fallback turn to finish", func() bool {
		return rig.session.State() == turn.StateIdle &&
			strings.Contains(lastAssistantText(rig.session.Context().Snapshot()), "could not finish")
	})

	// exactly MaxToolRounds rounds dispatch; the next request for a tool trips
	// the bound before its call runs
	mu.Lock()
	defer mu.Unlock()
	if invocations != cfg.MaxToolRounds {
		t.Errorf("dispatched %d rounds, want exactly %d", invocations, cfg.MaxToolRounds)
	}
	if n := len(rig.session.Context().PendingToolCalls()); n != 0 {
		t.Errorf("pending calls after bounded turn = %d", n)
	}
}

// Scenario: the model repeats a call id; the handler runs once and the cached
// result is reused.
func TestSession_DuplicateToolCallID(t *testing.T) {
	invocations := 0
	var mu sync.Mutex
	registrar := func(r *tools.Registry) error {
		return r.Register(tools.Spec{Name: "once", Schema: tools.ObjectSchema(nil)},
			func(context.Context, map[string]interface{}) (interface{}, error) {
				mu.Lock()
				invocations++
				mu.Unlock()
				return map[string]interface{}{"ok": true}, nil
			})
	}

	bus := eventbus.New(2)
	t.Cleanup(bus.Close)
	var cachedSeen bool
	var busMu sync.Mutex
	_ = bus.Subscribe(eventbus.TopicToolInvoked, func(ev eventbus.ToolInvoked) {
		busMu.Lock()
		if ev.Cached {
			cachedSeen = true
		}
		busMu.Unlock()
	})

	llm := &mockLLM{script: []scriptedResponse{
		{chunks: []providers.Chunk{toolCallChunk("dup-1", "once", `{}`)}},
		{chunks: []providers.Chunk{toolCallChunk("dup-1", "once", `{}`)}},
		{chunks: textChunks("Done.")},
	}}

	channel := newMockChannel()
	asr := newMockASR()
	tts := &mockTTS{}
	orch := NewOrchestrator(testSessionConfig(), Deps{
		LLM: llm, TTS: tts, ASR: asr, VAD: mockVAD{},
		Bus:        bus,
		Registrars: []func(*tools.Registry) error{registrar},
	})
	session, err := orch.Start(context.Background(), channel)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = session.Stop() })

	asr.finalize("call it twice")

	waitFor(t, 3*time.Second, "turn to finish", func() bool {
		return session.State() == turn.StateIdle && llm.streamCalls() >= 3
	})

	mu.Lock()
	if invocations != 1 {
		t.Errorf("handler ran %d times, want 1", invocations)
	}
	mu.Unlock()

	waitFor(t, time.Second, "cached tool event", func() bool {
		busMu.Lock()
		defer busMu.Unlock()
		return cachedSeen
	})
}

// Scenario: a transient LLM failure is retried; exhausted retries fall back.
func TestSession_RetryThenFallback(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxRetries = 1

	llm := &mockLLM{script: []scriptedResponse{
		{err: errors.New(errors.KindProvider, "llm", "transient")},
		{chunks: textChunks("Recovered fine.")},
	}}
	rig := startSession(t, cfg, llm, nil)

	rig.asr.finalize("hello")
	waitFor(t, 2*time.Second, "retried turn", func() bool {
		return strings.Contains(lastAssistantText(rig.session.Context().Snapshot()), "Recovered")
	})
	if llm.streamCalls() != 2 {
		t.Errorf("stream calls = %d, want 2", llm.streamCalls())
	}
}

func TestSession_AllRetriesFailSpeaksFallback(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxRetries = 1

	llm := &mockLLM{script: []scriptedResponse{
		{err: errors.New(errors.KindProvider, "llm", "down")},
	}}
	rig := startSession(t, cfg, llm, nil)

	rig.asr.finalize("hello")
	waitFor(t, 3*time.Second, "fallback", func() bool {
		return strings.Contains(lastAssistantText(rig.session.Context().Snapshot()), "could not finish")
	})
	if rig.session.State() != turn.StateIdle {
		t.Errorf("state after fallback = %s", rig.session.State())
	}
}

// Scenario: the endpoint fires but the recognizer never delivers a final
// transcript; the session reports the stall and returns to Idle instead of
// staying stuck in Processing.
func TestSession_RecognizerStallRecovers(t *testing.T) {
	cfg := testSessionConfig()
	cfg.FirstTokenTimeoutMs = 100

	bus := eventbus.New(2)
	t.Cleanup(bus.Close)
	var stallReported bool
	var busMu sync.Mutex
	_ = bus.Subscribe(eventbus.TopicPipelineError, func(ev eventbus.PipelineError) {
		busMu.Lock()
		if ev.Stage == "asr" && !ev.Fatal {
			stallReported = true
		}
		busMu.Unlock()
	})

	llm := &mockLLM{script: []scriptedResponse{{chunks: textChunks("unused")}}}
	channel := newMockChannel()
	asr := newMockASR()
	orch := NewOrchestrator(cfg, Deps{
		LLM: llm, TTS: &mockTTS{}, ASR: asr, VAD: mockVAD{},
		Bus: bus,
	})
	session, err := orch.Start(context.Background(), channel)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = session.Stop() })

	channel.in <- speechFrame(1)
	channel.in <- speechFrame(2)

	waitFor(t, time.Second, "endpoint to open a turn", func() bool {
		return session.State() == turn.StateProcessing
	})

	waitFor(t, 2*time.Second, "stall to be reported", func() bool {
		busMu.Lock()
		defer busMu.Unlock()
		return stallReported
	})
	waitFor(t, time.Second, "session back to idle", func() bool {
		return session.State() == turn.StateIdle
	})
	if llm.streamCalls() != 0 {
		t.Errorf("no turn should run without a transcript, got %d stream calls", llm.streamCalls())
	}
}

func TestSession_GreetingSpokenOnStart(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Greeting = "Hello there!"

	llm := &mockLLM{script: []scriptedResponse{{chunks: textChunks("ok")}}}
	rig := startSession(t, cfg, llm, nil)

	waitFor(t, 2*time.Second, "greeting synthesis", func() bool {
		segs := rig.tts.spokenSegments()
		return len(segs) > 0 && segs[0] == "Hello there!"
	})

	snap := rig.session.Context().Snapshot()
	if len(snap) < 2 || snap[1].Role != conversation.RoleAssistant || snap[1].Content != "Hello there!" {
		t.Errorf("greeting not in log: %+v", snap)
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	llm := &mockLLM{script: []scriptedResponse{{chunks: textChunks("hi")}}}
	rig := startSession(t, testSessionConfig(), llm, nil)

	if err := rig.session.Stop(); err != nil {
		t.Errorf("first Stop: %v", err)
	}
	if err := rig.session.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
