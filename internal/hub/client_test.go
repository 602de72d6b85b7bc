package hub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	c := newClient("c1", newFakeConn(), 3, time.Now())
	now := time.Now()

	dropped := 0
	for i := byte(0); i < 5; i++ {
		dropped += c.enqueue([]byte{i}, now)
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}

	var got []byte
	for i := 0; i < 3; i++ {
		qm := <-c.send
		got = append(got, qm.data[0])
	}
	for i, want := range []byte{2, 3, 4} {
		if got[i] != want {
			t.Errorf("queue[%d] = %d, want %d (oldest dropped first)", i, got[i], want)
		}
	}
}

func TestWritePumpSkipsExpiredMessages(t *testing.T) {
	conn := newFakeConn()
	c := newClient("c1", conn, 10, time.Now())

	c.enqueue([]byte(`stale`), time.Now().Add(-time.Minute))
	c.enqueue([]byte(`fresh`), time.Now())

	failed := make(chan string, 1)
	go c.writePump(10*time.Second, time.Millisecond, 3, failed, zerolog.Nop())
	defer close(c.done)

	select {
	case data := <-conn.writes:
		if string(data) != "fresh" {
			t.Fatalf("wrote %q, want only the fresh message", data)
		}
	case <-time.After(time.Second):
		t.Fatal("fresh message never written")
	}
}

// flakyConn fails its first n writes, then works.
type flakyConn struct {
	mu        sync.Mutex
	failsLeft int
	writes    chan []byte
}

func (c *flakyConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failsLeft > 0 {
		c.failsLeft--
		return errors.New("flaky")
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *flakyConn) Close() error { return nil }

func TestWritePumpRetriesTransientFailure(t *testing.T) {
	conn := &flakyConn{failsLeft: 2, writes: make(chan []byte, 4)}
	c := newClient("c1", conn, 10, time.Now())
	c.enqueue([]byte(`payload`), time.Now())

	failed := make(chan string, 1)
	go c.writePump(time.Minute, time.Millisecond, 5, failed, zerolog.Nop())
	defer close(c.done)

	select {
	case data := <-conn.writes:
		if string(data) != "payload" {
			t.Fatalf("wrote %q, want payload", data)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered after transient failures")
	}
}

func TestWritePumpReportsPersistentFailure(t *testing.T) {
	conn := newFakeConn()
	conn.setFailAll(true)
	c := newClient("c1", conn, 10, time.Now())
	c.enqueue([]byte(`doomed`), time.Now())

	failed := make(chan string, 1)
	go c.writePump(time.Minute, time.Millisecond, 2, failed, zerolog.Nop())
	defer close(c.done)

	select {
	case id := <-failed:
		if id != "c1" {
			t.Fatalf("failed id = %s, want c1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("persistent failure never reported")
	}
}
