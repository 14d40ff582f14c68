package conversation

import (
	"fmt"
	"sync"

	"voxloop-server-go/internal/platform/errors"
)

// Context is the append-only conversation log for one session. All appends go
// through invariant checks; a violation returns a KindContext error and leaves
// the log unchanged.
//
// Invariants enforced:
//   - the first message is the system prompt, set at construction
//   - user messages and assistant turns alternate at the top level
//   - a tool result must match a tool call issued in the current assistant
//     turn, and each call receives exactly one result
//   - no user message may be appended while tool calls are unresolved
type Context struct {
	mu       sync.RWMutex
	messages []Message

	// pending maps unresolved tool-call ids from the current assistant turn.
	pending map[string]bool
}

// New creates a context seeded with the system prompt.
func New(systemPrompt string) *Context {
	return &Context{
		messages: []Message{SystemMessage(systemPrompt)},
		pending:  make(map[string]bool),
	}
}

// Append validates and appends one message.
func (c *Context) Append(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Role {
	case RoleSystem:
		return errors.New(errors.KindContext, "append",
			"system prompt is set at construction and cannot be re-appended")

	case RoleUser:
		if len(c.pending) > 0 {
			return errors.New(errors.KindContext, "append",
				fmt.Sprintf("user message with %d unresolved tool calls", len(c.pending)))
		}
		if last := c.lastTopLevelRole(); last == RoleUser {
			return errors.New(errors.KindContext, "append",
				"consecutive user messages break turn alternation")
		}

	case RoleAssistant:
		if last := c.lastTopLevelRole(); last == RoleSystem {
			// greeting before any user input is allowed
		} else if last != RoleUser && len(msg.ToolCalls) == 0 && !c.inToolRound() {
			return errors.New(errors.KindContext, "append",
				"assistant message without a preceding user message")
		}
		if len(msg.ToolCalls) > 0 {
			if c.lastTopLevelRole() == RoleAssistant && !c.inToolRound() {
				return errors.New(errors.KindContext, "append",
					"tool calls after a completed assistant turn")
			}
			if len(c.pending) > 0 {
				return errors.New(errors.KindContext, "append",
					"new tool calls while previous calls are unresolved")
			}
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					return errors.New(errors.KindContext, "append", "tool call with empty id")
				}
				if c.pending[call.ID] {
					return errors.New(errors.KindContext, "append",
						fmt.Sprintf("duplicate tool call id %q", call.ID))
				}
				c.pending[call.ID] = true
			}
		}

	case RoleTool:
		if !c.pending[msg.ToolCallID] {
			return errors.New(errors.KindContext, "append",
				fmt.Sprintf("tool result for unknown or resolved call id %q", msg.ToolCallID))
		}
		delete(c.pending, msg.ToolCallID)

	default:
		return errors.New(errors.KindContext, "append",
			fmt.Sprintf("unknown role %q", msg.Role))
	}

	c.messages = append(c.messages, msg)
	return nil
}

// lastTopLevelRole returns the role of the most recent user or assistant-text
// message, skipping tool plumbing. Caller holds the lock.
func (c *Context) lastTopLevelRole() Role {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == RoleUser {
			return RoleUser
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) == 0 {
			return RoleAssistant
		}
		if m.Role == RoleSystem {
			return RoleSystem
		}
	}
	return ""
}

// inToolRound reports whether the tail of the log is tool-call plumbing, i.e.
// the assistant is mid-turn. Caller holds the lock.
func (c *Context) inToolRound() bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		switch c.messages[i].Role {
		case RoleTool:
			return true
		case RoleAssistant:
			return len(c.messages[i].ToolCalls) > 0
		default:
			return false
		}
	}
	return false
}

// PendingToolCalls returns the unresolved call ids.
func (c *Context) PendingToolCalls() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a copy of the log safe to hand to providers.
func (c *Context) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system prompt.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// TurnCount counts completed user turns.
func (c *Context) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Compact replaces older turns with a summary message, keeping the system
// prompt and the last keepTurns user turns intact. Compaction is refused while
// tool calls are unresolved.
func (c *Context) Compact(keepTurns int, summary string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) > 0 {
		return errors.New(errors.KindContext, "compact",
			"cannot compact with unresolved tool calls")
	}
	if keepTurns < 1 {
		keepTurns = 1
	}

	// find the index of the first message of the keepTurns-th user turn from
	// the end
	turnStarts := []int{}
	for i, m := range c.messages {
		if m.Role == RoleUser {
			turnStarts = append(turnStarts, i)
		}
	}
	if len(turnStarts) <= keepTurns {
		return nil
	}
	cut := turnStarts[len(turnStarts)-keepTurns]

	compacted := make([]Message, 0, len(c.messages)-cut+2)
	compacted = append(compacted, c.messages[0])
	if summary != "" {
		compacted = append(compacted, Message{
			Role:    RoleSystem,
			Content: "Summary of earlier conversation: " + summary,
		})
	}
	compacted = append(compacted, c.messages[cut:]...)
	c.messages = compacted
	return nil
}
