package scoring

import "testing"

func TestTracker_ZeroScoreBeforeAnyUpdate(t *testing.T) {
	tr := NewTracker(Alpha)
	if got := tr.Score(10, 5); got != 0 {
		t.Fatalf("Score() with no updates = %f, want 0", got)
	}
}

func TestTracker_ScoreNonZeroAfterUpdate(t *testing.T) {
	tr := NewTracker(Alpha)
	tr.Update(3, 5, 10)
	if got := tr.Score(1, 0); got <= 0 {
		t.Fatalf("Score() after an update = %f, want > 0", got)
	}
}

func TestTracker_IdenticalStateYieldsEqualScore(t *testing.T) {
	a := NewTracker(Alpha)
	b := NewTracker(Alpha)

	a.Update(4, 2, 6)
	b.Update(4, 2, 6)

	sa := a.Score(3, 2)
	sb := b.Score(3, 2)
	if sa != sb {
		t.Fatalf("identical trackers scored differently: %f vs %f", sa, sb)
	}
}

func TestTracker_MorePendingRaisesScore(t *testing.T) {
	tr := NewTracker(Alpha)
	tr.Update(2, 5, 10)

	low := tr.Score(5, 1)
	high := tr.Score(5, 10)
	if high <= low {
		t.Fatalf("Score with higher pending (%f) did not exceed lower pending (%f)", high, low)
	}
}
