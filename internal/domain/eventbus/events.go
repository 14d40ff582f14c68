package eventbus

import "time"

// Topics published by the pipeline. Collaborators that persist history or
// drive analytics subscribe here; the turn loop never blocks on them.
const (
	TopicTurnStarted    = "turn:started"
	TopicTurnEnded      = "turn:ended"
	TopicTurnState      = "turn:state"
	TopicAssistantDelta = "assistant:delta"
	TopicToolInvoked    = "tool:invoked"
	TopicPipelineError  = "pipeline:error"
)

// TurnStarted is published when a finalized user utterance opens a turn.
type TurnStarted struct {
	SessionID string    `json:"session_id"`
	Turn      int       `json:"turn"`
	UserText  string    `json:"user_text"`
	At        time.Time `json:"at"`
}

// TurnEnded is published when a turn completes, is interrupted, or falls back.
type TurnEnded struct {
	SessionID     string    `json:"session_id"`
	Turn          int       `json:"turn"`
	AssistantText string    `json:"assistant_text"`
	Interrupted   bool      `json:"interrupted"`
	ToolRounds    int       `json:"tool_rounds"`
	At            time.Time `json:"at"`
}

// StateChanged mirrors every turn-controller transition.
type StateChanged struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

// AssistantDelta carries one streamed text fragment.
type AssistantDelta struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	Text      string `json:"text"`
}

// ToolInvoked records one tool round-trip.
type ToolInvoked struct {
	SessionID string        `json:"session_id"`
	Turn      int           `json:"turn"`
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Failed    bool          `json:"failed"`
	Cached    bool          `json:"cached"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// PipelineError reports a stage failure that the session absorbed or died on.
type PipelineError struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Fatal     bool   `json:"fatal"`
}
