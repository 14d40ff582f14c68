package audio

import "time"

// Direction tags which way a frame is flowing.
type Direction int

const (
	DirectionInbound  Direction = iota // user microphone -> pipeline
	DirectionOutbound                  // pipeline -> playback
)

// Frame is one PCM chunk moving through the pipeline. Seq is monotonically
// increasing per direction within a session; receivers use it to detect gaps
// and to reject stale frames after a flush.
type Frame struct {
	Seq        uint64
	Direction  Direction
	SampleRate int
	Channels   int
	PCM        []byte
	Timestamp  time.Time
}

// Duration computes the playback time of the frame for 16-bit PCM.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.PCM) == 0 {
		return 0
	}
	samples := len(f.PCM) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// SeqTracker watches inbound sequence numbers and reports gaps.
type SeqTracker struct {
	last    uint64
	started bool
	gaps    uint64
	lost    uint64
}

// Observe records a frame's sequence number. Returns the number of frames
// skipped since the previous one, zero when contiguous. Out-of-order frames
// count as a gap of zero and are reported stale.
func (t *SeqTracker) Observe(seq uint64) (skipped uint64, stale bool) {
	if !t.started {
		t.started = true
		t.last = seq
		return 0, false
	}
	if seq <= t.last {
		return 0, true
	}
	skipped = seq - t.last - 1
	if skipped > 0 {
		t.gaps++
		t.lost += skipped
	}
	t.last = seq
	return skipped, false
}

// Stats returns cumulative gap count and total frames lost.
func (t *SeqTracker) Stats() (gaps, lost uint64) {
	return t.gaps, t.lost
}
