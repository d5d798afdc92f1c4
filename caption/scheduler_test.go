package caption

import (
	"math/rand"
	"testing"
	"time"

	"go.aimuz.me/livecaption/internal/loop"
	"go.aimuz.me/livecaption/transport"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestScheduler_Deadline(t *testing.T) {
	m := loop.NewManual(epoch)
	s := NewScheduler(m)
	s.Begin(epoch, 2*time.Second)

	var firedAt []time.Time
	s.Schedule(500*time.Millisecond, func() { firedAt = append(firedAt, m.Now()) })
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}

	m.Advance(2499 * time.Millisecond)
	if len(firedAt) != 0 {
		t.Fatal("fired before deadline")
	}
	m.Advance(time.Millisecond)
	if len(firedAt) != 1 || !firedAt[0].Equal(epoch.Add(2500*time.Millisecond)) {
		t.Fatalf("firedAt = %v", firedAt)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after firing", s.Pending())
	}
}

func TestScheduler_PastDeadlineRunsSynchronously(t *testing.T) {
	m := loop.NewManual(epoch.Add(10 * time.Second))
	s := NewScheduler(m)
	s.Begin(epoch, time.Second)

	ran := false
	s.Schedule(time.Second, func() { ran = true })
	if !ran {
		t.Error("past-deadline action did not run synchronously")
	}
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d", s.Pending())
	}
}

func TestScheduler_ResetAll(t *testing.T) {
	m := loop.NewManual(epoch)
	s := NewScheduler(m)
	s.Begin(epoch, time.Second)

	runs := 0
	for i := range 10 {
		s.Schedule(time.Duration(i)*100*time.Millisecond, func() { runs++ })
	}
	m.Advance(1050 * time.Millisecond) // first action due at 1s
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}

	s.ResetAll()
	if s.Pending() != 0 {
		t.Errorf("Pending() = %d after ResetAll", s.Pending())
	}
	m.Advance(time.Hour)
	if runs != 1 {
		t.Errorf("runs = %d after ResetAll, want 1", runs)
	}
}

func TestScheduler_RunsEachActionOnce(t *testing.T) {
	m := loop.NewManual(epoch)
	s := NewScheduler(m)
	s.Begin(epoch, 500*time.Millisecond)

	counts := make([]int, 50)
	rng := rand.New(rand.NewSource(3))
	for i := range counts {
		s.Schedule(time.Duration(rng.Intn(3000))*time.Millisecond, func() { counts[i]++ })
	}
	for range 40 {
		m.Advance(100 * time.Millisecond)
	}
	for i, c := range counts {
		if c != 1 {
			t.Errorf("action %d ran %d times", i, c)
		}
	}
}

// TestStaleLiveNeverRendered drives random partial/confirm sequences through
// the reconciler and scheduler, checking that no live update rendered after
// its speaker's N-th confirmation was emitted before it.
func TestStaleLiveNeverRendered(t *testing.T) {
	for seed := range int64(20) {
		rng := rand.New(rand.NewSource(seed))
		m := loop.NewManual(epoch)
		s := NewScheduler(m)
		s.Begin(epoch, time.Second)
		r := NewReconciler()

		var elapsed float64
		for range 200 {
			speaker := []string{"A", "B"}[rng.Intn(2)]
			// Out-of-order offsets within a small window.
			elapsed += float64(rng.Intn(40))
			ms := elapsed - float64(rng.Intn(200))

			var ev transport.Event
			if rng.Intn(4) == 0 {
				ev = transport.ConfirmedTranscriptEvent{Timing: by(speaker, ms), Text: "c"}
			} else {
				ev = transport.PartialTranscriptEvent{Timing: by(speaker, ms), Text: "p"}
			}
			u, _ := r.Apply(ev, 0)
			s.Schedule(u.Elapsed, func() {
				if r.Stale(u) || u.Confirmation {
					return
				}
				st, _ := r.State(u.Speaker, u.Kind)
				if u.ConfirmCount < st.ConfirmCount {
					t.Fatalf("seed %d: live from count %d rendered after confirmation %d", seed, u.ConfirmCount, st.ConfirmCount)
				}
			})
			m.Advance(time.Duration(rng.Intn(30)) * time.Millisecond)
		}
		m.Advance(time.Minute)
	}
}
