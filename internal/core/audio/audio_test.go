package audio

import (
	"testing"
	"time"
)

func TestFrame_Duration(t *testing.T) {
	f := Frame{SampleRate: 16000, Channels: 1, PCM: make([]byte, 640)}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", got)
	}
	if (Frame{}).Duration() != 0 {
		t.Error("empty frame should have zero duration")
	}
}

func TestSeqTracker(t *testing.T) {
	var tr SeqTracker

	if skipped, stale := tr.Observe(5); skipped != 0 || stale {
		t.Errorf("first frame: skipped=%d stale=%v", skipped, stale)
	}
	if skipped, _ := tr.Observe(6); skipped != 0 {
		t.Errorf("contiguous frame skipped=%d", skipped)
	}
	if skipped, _ := tr.Observe(9); skipped != 2 {
		t.Errorf("gap skipped=%d, want 2", skipped)
	}
	if _, stale := tr.Observe(7); !stale {
		t.Error("out-of-order frame should be stale")
	}

	gaps, lost := tr.Stats()
	if gaps != 1 || lost != 2 {
		t.Errorf("Stats = (%d, %d), want (1, 2)", gaps, lost)
	}
}

func TestBuffer_DropOldestWhenFull(t *testing.T) {
	b := NewBuffer(3)
	for seq := uint64(1); seq <= 5; seq++ {
		if !b.Push(Frame{Seq: seq}) {
			t.Fatalf("Push(%d) rejected", seq)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if b.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", b.Dropped())
	}

	f, ok := b.Pop()
	if !ok || f.Seq != 3 {
		t.Errorf("oldest surviving frame seq = %d, want 3", f.Seq)
	}
}

func TestBuffer_WaitSignals(t *testing.T) {
	b := NewBuffer(8)

	done := make(chan Frame, 1)
	go func() {
		for {
			if f, ok := b.Pop(); ok {
				done <- f
				return
			}
			select {
			case <-b.Wait():
			case <-time.After(time.Second):
				close(done)
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Push(Frame{Seq: 42})

	f, ok := <-done
	if !ok || f.Seq != 42 {
		t.Fatalf("consumer got %+v ok=%v", f, ok)
	}
}

func TestBuffer_ClearAndClose(t *testing.T) {
	b := NewBuffer(8)
	b.Push(Frame{Seq: 1})
	b.Push(Frame{Seq: 2})

	b.Clear()
	if b.Len() != 0 {
		t.Error("Clear left frames behind")
	}

	b.Close()
	if b.Push(Frame{Seq: 3}) {
		t.Error("Push after Close should be rejected")
	}
	if !b.Closed() {
		t.Error("Closed() should report true")
	}
}
