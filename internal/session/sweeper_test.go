package session

import (
	"context"
	"testing"
	"time"
)

func TestSweeperExpiresIdleSessions(t *testing.T) {
	s := NewStore(30*time.Millisecond, 10)
	s.Create("s1")

	w := NewSweeper(s, 10*time.Millisecond)
	w.Start(context.Background())
	defer w.Stop()

	// Get refreshes LastAccessAt, so the wait polls Stats instead of reading
	// the session and keeping it alive.
	deadline := time.After(time.Second)
	for {
		if s.Stats().Sessions == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session survived past TTL with sweeper running")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	s := NewStore(time.Minute, 10)
	w := NewSweeper(s, 10*time.Millisecond)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestSweeperStopWithoutStart(t *testing.T) {
	s := NewStore(time.Minute, 10)
	w := NewSweeper(s, 10*time.Millisecond)
	w.Stop()
}
