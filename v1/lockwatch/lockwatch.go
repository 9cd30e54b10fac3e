// Package lockwatch streams lock lifecycle events to HTTP clients. It is a
// debugging and operations surface on top of lockbus; it takes no part in
// the locking protocol itself.
package lockwatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-leaselock/v1/lockbus"
)

// SSEHandler streams acquire and release events for one lock over
// Server-Sent Events. The lock name is taken from the "name" query parameter.
func SSEHandler(bus lockbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := subscribeBoth(ctx, bus, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams acquire and release events for one lock over
// WebSocket. The lock name is taken from the "name" query parameter.
func WebSocketHandler(bus lockbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "missing name", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		ch, err := subscribeBoth(ctx, bus, name)
		if err != nil {
			return
		}
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// subscribeBoth merges the acquired and released subjects for name into one
// channel. The merged channel closes when ctx is canceled.
func subscribeBoth(ctx context.Context, bus lockbus.Bus, name string) (chan []byte, error) {
	acquired, err := bus.Subscribe(ctx, lockbus.AcquiredSubject(name))
	if err != nil {
		return nil, err
	}
	released, err := bus.Subscribe(ctx, lockbus.ReleasedSubject(name))
	if err != nil {
		_ = bus.Unsubscribe(context.Background(), lockbus.AcquiredSubject(name), acquired)
		return nil, err
	}
	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-acquired:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case msg, ok := <-released:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
