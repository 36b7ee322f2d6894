package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// serveStream implements the push channel as text/event-stream.
func (b *Backend) serveStream(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.streamQueries = append(b.streamQueries, r.URL.Query())
	status := b.streamStatus
	b.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		http.Error(w, "stream unavailable", status)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &stream{
		messages: make(chan sseMessage, 64),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.streams[s] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.streams, s)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case msg := <-s.messages:
			if msg.event != "" {
				fmt.Fprintf(w, "event: %s\n", msg.event)
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.data)
			flusher.Flush()
		}
	}
}

// Push sends payload as JSON to every connected stream under event.
func (b *Backend) Push(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("testutil: cannot marshal push payload: %v", err))
	}
	b.PushRaw(event, string(data))
}

// PushRaw sends data verbatim; an empty event produces an unnamed message.
func (b *Backend) PushRaw(event, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		select {
		case s.messages <- sseMessage{event: event, data: data}:
		default:
		}
	}
}

// StreamClients returns the number of open streams.
func (b *Backend) StreamClients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// StreamConnects returns how many stream requests were received.
func (b *Backend) StreamConnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streamQueries)
}

// StreamQuery returns the query of the i-th stream request.
func (b *Backend) StreamQuery(i int) url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.streamQueries) {
		return nil
	}
	return b.streamQueries[i]
}

// SetStreamStatus makes new stream requests fail with status; 0 or 200 accepts them.
func (b *Backend) SetStreamStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamStatus = status
}

// DropStreams ends every open stream from the server side.
func (b *Backend) DropStreams() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		s.close()
	}
}
