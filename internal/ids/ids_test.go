package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestValidAndTime(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	if !Valid(id) {
		t.Fatalf("expected %q to be valid", id)
	}
	got, ok := Time(id)
	if !ok || !got.Equal(at) {
		t.Fatalf("Time(%q)=%v,%v want %v", id, got, ok, at)
	}
	for _, bad := range []string{"", "not-an-id", "01HZZZZZZZZZZZZZZZZZZZZZZ!"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
