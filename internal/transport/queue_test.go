package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue(nil)
	for i := byte(0); i < 5; i++ {
		q.Push([]byte{i, i + 1})
	}
	if q.Len() != 5 {
		t.Fatalf("len = %d, want 5", q.Len())
	}

	ctx := context.Background()
	for i := byte(0); i < 5; i++ {
		got, err := q.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte{i, i + 1}) {
			t.Errorf("item %d = %X", i, got)
		}
	}
}

func TestQueuePushCopies(t *testing.T) {
	q := NewQueue(nil)
	buf := []byte{1, 2, 3}
	q.Push(buf)
	buf[0] = 0xFF

	got, err := q.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 {
		t.Errorf("queue kept caller buffer: %X", got)
	}
}

func TestQueueNextBlocksUntilPush(t *testing.T) {
	q := NewQueue(nil)
	done := make(chan []byte, 1)
	go func() {
		buf, _ := q.Next(context.Background())
		done <- buf
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push([]byte{0x42})

	select {
	case buf := <-done:
		if !bytes.Equal(buf, []byte{0x42}) {
			t.Errorf("got %X", buf)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Push")
	}
}

func TestQueueNextContextCancel(t *testing.T) {
	q := NewQueue(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestQueueClose(t *testing.T) {
	calls := 0
	q := NewQueue(func() error {
		calls++
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("onClose called %d times, want 1", calls)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Next")
	}

	q.Push([]byte{1})
	if q.Len() != 0 {
		t.Error("push after close was buffered")
	}
}

func TestEndpointString(t *testing.T) {
	ep := Endpoint{UUID: "DEED", Handle: 3}
	if got := ep.String(); got != "DEED#3" {
		t.Errorf("String() = %q", got)
	}
}
