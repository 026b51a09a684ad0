package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/session"
	"github.com/gin-gonic/gin"
)

type streamEvent struct {
	name string
	data string
}

type streamReader struct {
	t      *testing.T
	reader *bufio.Reader
}

// next returns the next complete server-sent event or fails the test after the deadline.
func (r *streamReader) next(deadline time.Duration) streamEvent {
	r.t.Helper()
	type readResult struct {
		event streamEvent
		err   error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		var event streamEvent
		for {
			line, err := r.reader.ReadString('\n')
			if err != nil {
				resultCh <- readResult{err: err}
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if event.name != "" || event.data != "" {
					resultCh <- readResult{event: event}
					return
				}
			case strings.HasPrefix(line, "event:"):
				event.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				event.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	select {
	case <-time.After(deadline):
		r.t.Fatal("timed out waiting for stream event")
	case result := <-resultCh:
		if result.err != nil {
			r.t.Fatalf("failed to read stream: %v", result.err)
		}
		return result.event
	}
	return streamEvent{}
}

func TestEventStreamDeliversSnapshotThenDocumentChanges(t *testing.T) {
	handler, _, dispatcher := newTestHandler(t)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", streamResp.Header.Get("Content-Type"))
	}

	reader := &streamReader{t: t, reader: bufio.NewReader(streamResp.Body)}
	snapshot := reader.next(5 * time.Second)
	if snapshot.name != realtimeEventSnapshot {
		t.Fatalf("expected snapshot first, got %q", snapshot.name)
	}
	var snapshotPayload sessionResponsePayload
	if err := json.Unmarshal([]byte(snapshot.data), &snapshotPayload); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshotPayload.Document.Text != testInitialText {
		t.Fatalf("unexpected snapshot document %q", snapshotPayload.Document.Text)
	}
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", dispatcher.SubscriberCount())
	}

	editRequest, err := http.NewRequest(http.MethodPut, server.URL+"/document", bytes.NewBufferString(`{"text":"# Notes\n- streamed"}`))
	if err != nil {
		t.Fatalf("failed to construct edit request: %v", err)
	}
	editRequest.Header.Set("Content-Type", "application/json")
	editResp, err := http.DefaultClient.Do(editRequest)
	if err != nil {
		t.Fatalf("edit request failed: %v", err)
	}
	_ = editResp.Body.Close()
	if editResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected edit status: %d", editResp.StatusCode)
	}

	for {
		event := reader.next(5 * time.Second)
		if event.name != string(session.EventDocument) {
			continue
		}
		var envelope struct {
			Type    session.EventType     `json:"type"`
			Payload session.DocumentEvent `json:"payload"`
		}
		if err := json.Unmarshal([]byte(event.data), &envelope); err != nil {
			t.Fatalf("failed to decode document event: %v", err)
		}
		if envelope.Payload.Document.Text != "# Notes\n- streamed" || envelope.Payload.Version != 2 {
			t.Fatalf("unexpected document event %#v", envelope.Payload)
		}
		return
	}
}

func TestEventStreamEmitsHeartbeat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Session:           newTestSession(t, dispatcher),
		Realtime:          dispatcher,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	streamResp, err := http.Get(server.URL + "/events")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})

	reader := &streamReader{t: t, reader: bufio.NewReader(streamResp.Body)}
	if first := reader.next(5 * time.Second); first.name != realtimeEventSnapshot {
		t.Fatalf("expected snapshot first, got %q", first.name)
	}
	heartbeat := reader.next(5 * time.Second)
	if heartbeat.name != realtimeEventHeartbeat {
		t.Fatalf("expected heartbeat, got %q", heartbeat.name)
	}
	if !strings.Contains(heartbeat.data, realtimeSourceBackend) {
		t.Fatalf("unexpected heartbeat payload %q", heartbeat.data)
	}
}
