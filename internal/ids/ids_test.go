package ids

import (
	"testing"
	"time"
)

func TestNewProducesUniqueSortedIDs(t *testing.T) {
	seen := make(map[string]struct{})
	var prev string
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id < prev {
			t.Fatalf("ids not monotonic: %s < %s", id, prev)
		}
		prev = id
	}
}

func TestNewAtEncodesTimestamp(t *testing.T) {
	early := NewAt(time.Unix(1_000_000, 0))
	late := NewAt(time.Unix(2_000_000, 0))
	if early >= late {
		t.Fatalf("expected %s < %s", early, late)
	}
}
