package turn

import (
	"sync"
	"testing"

	"voxloop-server-go/internal/platform/errors"
)

func TestController_FullTurnCycle(t *testing.T) {
	c := NewController()
	if c.State() != StateIdle {
		t.Fatalf("initial state = %s", c.State())
	}

	c.OnSpeech()
	if c.State() != StateUserSpeaking {
		t.Fatalf("after speech: %s", c.State())
	}

	if err := c.OnEndOfUtterance(); err != nil {
		t.Fatal(err)
	}
	if err := c.OnAssistantSpeaking(); err != nil {
		t.Fatal(err)
	}
	if err := c.OnPlaybackDone(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateIdle {
		t.Fatalf("after playback done: %s", c.State())
	}
}

func TestController_SilentTurn(t *testing.T) {
	c := NewController()
	c.OnSpeech()
	if err := c.OnEndOfUtterance(); err != nil {
		t.Fatal(err)
	}
	if err := c.OnProcessingDone(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateIdle {
		t.Fatalf("after silent turn: %s", c.State())
	}
}

func TestController_BargeInDuringAgentSpeech(t *testing.T) {
	c := NewController()
	var interruptedFrom State
	c.SetInterruptHook(func(from State) { interruptedFrom = from })

	c.OnSpeech()
	c.OnEndOfUtterance()
	c.OnAssistantSpeaking()

	c.OnSpeech() // barge-in
	if c.State() != StateInterrupted {
		t.Fatalf("after barge-in: %s", c.State())
	}
	if interruptedFrom != StateAgentSpeaking {
		t.Errorf("interrupt hook from = %s, want %s", interruptedFrom, StateAgentSpeaking)
	}

	// further speech while interrupted does not refire the hook
	interruptedFrom = ""
	c.OnSpeech()
	if interruptedFrom != "" {
		t.Error("interrupt hook fired twice for one barge-in")
	}

	if err := c.OnCancelAcknowledged(); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateUserSpeaking {
		t.Fatalf("after cancel ack: %s", c.State())
	}
}

func TestController_BargeInDuringProcessing(t *testing.T) {
	c := NewController()
	fired := false
	c.SetInterruptHook(func(State) { fired = true })

	c.OnSpeech()
	c.OnEndOfUtterance()
	c.OnSpeech() // user resumes before any audio played

	if c.State() != StateInterrupted || !fired {
		t.Fatalf("state=%s fired=%v", c.State(), fired)
	}
}

func TestController_InvalidTransitionsRejected(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *Controller) error
	}{
		{"end of utterance from idle", func(c *Controller) error {
			return c.OnEndOfUtterance()
		}},
		{"assistant speaking from idle", func(c *Controller) error {
			return c.OnAssistantSpeaking()
		}},
		{"playback done without speaking", func(c *Controller) error {
			return c.OnPlaybackDone()
		}},
		{"cancel ack without interrupt", func(c *Controller) error {
			return c.OnCancelAcknowledged()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController()
			err := tt.run(c)
			if !errors.IsKind(err, errors.KindSession) {
				t.Errorf("expected session error, got %v", err)
			}
			if c.State() != StateIdle {
				t.Errorf("failed transition changed state to %s", c.State())
			}
		})
	}
}

func TestController_StateChangeNotifications(t *testing.T) {
	c := NewController()
	var mu sync.Mutex
	var seen []State
	c.SetStateChangeHook(func(_, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	c.OnSpeech()
	c.OnEndOfUtterance()
	c.OnAssistantSpeaking()
	c.OnPlaybackDone()

	want := []State{StateUserSpeaking, StateProcessing, StateAgentSpeaking, StateIdle}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("saw %d transitions, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}
