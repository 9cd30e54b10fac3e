package lockwatch

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-leaselock/v1/lockbus"
)

func publishWhenSubscribed(t *testing.T, bus *lockbus.InMemoryBus, subject string, data []byte) {
	t.Helper()
	// The handler subscribes asynchronously; retry until the event lands.
	go func() {
		for i := 0; i < 100; i++ {
			_ = bus.Publish(context.Background(), subject, data)
			time.Sleep(10 * time.Millisecond)
		}
	}()
}

func TestSSEHandlerStreamsAcquiredEvent(t *testing.T) {
	bus := lockbus.NewInMemoryBus()
	srv := httptest.NewServer(SSEHandler(bus))
	defer srv.Close()

	evt := lockbus.Event{Name: "job", Kind: lockbus.KindAcquired, At: time.Now().UTC()}
	data, err := evt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	publishWhenSubscribed(t, bus, lockbus.AcquiredSubject("job"), data)

	resp, err := http.Get(srv.URL + "?name=job")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("unexpected line %q", line)
	}
	got, err := lockbus.DecodeEvent([]byte(strings.TrimPrefix(line, "data: ")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "job" || got.Kind != lockbus.KindAcquired {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestSSEHandlerMissingName(t *testing.T) {
	bus := lockbus.NewInMemoryBus()
	srv := httptest.NewServer(SSEHandler(bus))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketHandlerStreamsReleasedEvent(t *testing.T) {
	bus := lockbus.NewInMemoryBus()
	srv := httptest.NewServer(WebSocketHandler(bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?name=job"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	evt := lockbus.Event{Name: "job", Kind: lockbus.KindReleased, At: time.Now().UTC()}
	data, err := evt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	publishWhenSubscribed(t, bus, lockbus.ReleasedSubject("job"), data)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := lockbus.DecodeEvent(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != lockbus.KindReleased {
		t.Fatalf("unexpected event %+v", got)
	}
}
