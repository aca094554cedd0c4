package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audioscore/api/internal/model"
)

// waitClients blocks until the hub has processed pending (un)registrations.
func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", want)
}

func TestPushUnknownConnectionReportsRecipientGone(t *testing.T) {
	h := NewHub()

	err := h.Push("no-such-connection", model.Notification{JobID: "job-1", Status: model.JobStatusStarting})
	if !errors.Is(err, ErrRecipientGone) {
		t.Fatalf("Push error = %v, want ErrRecipientGone", err)
	}
}

func TestPushDeliversToRegisteredClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := &Client{ConnectionID: "conn-1", Send: make(chan []byte, 4)}
	h.Register(client)
	waitClients(t, h, 1)

	want := model.Notification{
		JobID:   "job-1",
		Status:  model.JobStatusCompleted,
		PDFURL:  "song.pdf",
		MIDIURL: "song.mid",
	}
	if err := h.Push("conn-1", want); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	data := <-client.Send
	var got model.Notification
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal delivered message: %v", err)
	}
	if got != want {
		t.Errorf("delivered = %+v, want %+v", got, want)
	}
}

func TestPushAfterUnregisterReportsRecipientGone(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := &Client{ConnectionID: "conn-1", Send: make(chan []byte, 4)}
	h.Register(client)
	waitClients(t, h, 1)
	h.Unregister(client)
	waitClients(t, h, 0)

	err := h.Push("conn-1", model.Notification{JobID: "job-1", Status: model.JobStatusDownloading})
	if !errors.Is(err, ErrRecipientGone) {
		t.Fatalf("Push error = %v, want ErrRecipientGone", err)
	}
}

func TestPushConcurrentWithDisconnectDoesNotPanic(t *testing.T) {
	h := NewHub()
	go h.Run()

	msg := model.Notification{JobID: "job-1", Status: model.JobStatusDownloading}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_ = h.Push("conn-1", msg)
			}
		}()
	}

	// churn the connection while pushers are in flight; a send landing on a
	// freshly closed channel would panic the process
	for i := 0; i < 200; i++ {
		client := &Client{ConnectionID: "conn-1", Send: make(chan []byte, 1)}
		h.Register(client)
		waitClients(t, h, 1)
		h.Unregister(client)
		waitClients(t, h, 0)
	}

	close(stop)
	wg.Wait()
}

func TestPushFullBufferReportsRecipientGone(t *testing.T) {
	h := NewHub()
	go h.Run()

	client := &Client{ConnectionID: "conn-1", Send: make(chan []byte)}
	h.Register(client)
	waitClients(t, h, 1)

	err := h.Push("conn-1", model.Notification{JobID: "job-1", Status: model.JobStatusDownloading})
	if !errors.Is(err, ErrRecipientGone) {
		t.Fatalf("Push error = %v, want ErrRecipientGone", err)
	}
}
