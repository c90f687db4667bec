package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndWellFormed(t *testing.T) {
	a := NewAt(time.Unix(1_700_000_000, 0))
	b := NewAt(time.Unix(1_700_000_001, 0))
	for _, id := range []string{a, b, New()} {
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("malformed identifier %q: %v", id, err)
		}
	}
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestNewAtIsMonotonicWithinOneMillisecond(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	prev := NewAt(at)
	for i := 0; i < 100; i++ {
		next := NewAt(at)
		if next <= prev {
			t.Fatalf("expected %s > %s", next, prev)
		}
		prev = next
	}
}
