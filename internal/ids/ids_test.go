package ids

import (
	"testing"
	"time"
)

func TestNewAtIsSortableAndCarriesTime(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	a := NewAt(base)
	b := NewAt(base.Add(time.Millisecond))
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	got, ok := Time(a)
	if !ok || !got.Equal(base) {
		t.Fatalf("Time(%s)=%v ok=%v, want %v", a, got, ok, base)
	}
}

func TestNewIsMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("ids not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTimeRejectsGarbage(t *testing.T) {
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatalf("expected parse failure")
	}
}
