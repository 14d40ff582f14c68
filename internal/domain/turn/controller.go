package turn

import (
	"fmt"
	"sync"

	"voxloop-server-go/internal/platform/errors"
)

// State is the turn-taking phase of a session.
type State string

const (
	StateIdle          State = "idle"
	StateUserSpeaking  State = "user_speaking"
	StateProcessing    State = "processing"
	StateAgentSpeaking State = "agent_speaking"
	StateInterrupted   State = "interrupted"
)

// InterruptFunc is invoked exactly once per barge-in, while the controller
// already holds the Interrupted state. It must start cancellation of the
// in-flight generation and outbound audio; the controller stays Interrupted
// until OnCancelAcknowledged.
type InterruptFunc func(from State)

// StateChangeFunc observes every committed transition.
type StateChangeFunc func(from, to State)

// Controller is the turn-taking state machine. All methods are safe for
// concurrent use; hooks run outside the lock.
type Controller struct {
	mu          sync.Mutex
	state       State
	onInterrupt InterruptFunc
	onChange    StateChangeFunc
}

func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// SetInterruptHook registers the barge-in hook. Call before the session runs.
func (c *Controller) SetInterruptHook(fn InterruptFunc) {
	c.mu.Lock()
	c.onInterrupt = fn
	c.mu.Unlock()
}

// SetStateChangeHook registers the transition observer.
func (c *Controller) SetStateChangeHook(fn StateChangeFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition commits the state change and returns the deferred observer
// callback, or nil. Caller holds the lock and runs the callback after
// releasing it.
func (c *Controller) transition(to State) func() {
	from := c.state
	c.state = to
	fn := c.onChange
	if fn == nil || from == to {
		return nil
	}
	return func() { fn(from, to) }
}

// OnSpeech handles detected user speech. From Idle it opens a user turn; from
// Processing or AgentSpeaking it is a barge-in; while already UserSpeaking or
// Interrupted it is a no-op.
func (c *Controller) OnSpeech() {
	c.mu.Lock()
	var notify func()
	var interrupt InterruptFunc
	var from State

	switch c.state {
	case StateIdle:
		notify = c.transition(StateUserSpeaking)
	case StateProcessing, StateAgentSpeaking:
		from = c.state
		notify = c.transition(StateInterrupted)
		interrupt = c.onInterrupt
	case StateUserSpeaking, StateInterrupted:
		// already counting this speech
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	if interrupt != nil {
		interrupt(from)
	}
}

// OnEndOfUtterance closes the user turn and hands it to processing.
func (c *Controller) OnEndOfUtterance() error {
	return c.step("end_of_utterance", StateUserSpeaking, StateProcessing)
}

// OnAssistantSpeaking marks the first synthesized audio leaving for playback.
func (c *Controller) OnAssistantSpeaking() error {
	return c.step("assistant_speaking", StateProcessing, StateAgentSpeaking)
}

// OnPlaybackDone marks the assistant turn complete.
func (c *Controller) OnPlaybackDone() error {
	return c.step("playback_done", StateAgentSpeaking, StateIdle)
}

// OnProcessingDone returns to Idle when a turn produced no audio, for example
// after a silent tool-only round that yielded empty text.
func (c *Controller) OnProcessingDone() error {
	return c.step("processing_done", StateProcessing, StateIdle)
}

// OnCancelAcknowledged confirms the interrupted generation is fully torn
// down; the barge-in speech becomes the new user turn.
func (c *Controller) OnCancelAcknowledged() error {
	return c.step("cancel_acknowledged", StateInterrupted, StateUserSpeaking)
}

func (c *Controller) step(event string, from, to State) error {
	c.mu.Lock()
	if c.state != from {
		current := c.state
		c.mu.Unlock()
		return errors.New(errors.KindSession, "transition",
			fmt.Sprintf("event %s not valid in state %s", event, current))
	}
	notify := c.transition(to)
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}
