package discovery

import (
	"testing"
	"time"
)

func TestBroadcaster_latest_wins(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	s1 := NewSnapshot("1", time.Now(), nil)
	s2 := NewSnapshot("2", time.Now(), nil)
	b.Publish(s1)
	b.Publish(s2)

	if got := <-ch; got != s2 {
		t.Errorf("expected newest snapshot, got cycle %s", got.CycleID)
	}
	select {
	case got := <-ch:
		t.Errorf("mailbox should be empty, got cycle %s", got.CycleID)
	default:
	}
}

func TestBroadcaster_cancel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	if b.Len() != 1 {
		t.Fatalf("Len = %d", b.Len())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if b.Len() != 0 {
		t.Errorf("Len after cancel = %d", b.Len())
	}
	b.Publish(NewSnapshot("x", time.Now(), nil))
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()

	for _, ch := range []<-chan *Snapshot{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("channel should be closed")
		}
	}
	cancel1()
}
