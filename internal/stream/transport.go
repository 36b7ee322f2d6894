package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultEventName is the category of messages sent without an event field.
const DefaultEventName = "message"

const maxEventSize = 4 << 20

// Message is one inbound push event.
type Message struct {
	Event string
	Data  string
}

// Source yields messages from one open channel.
type Source interface {
	// Next blocks until a message arrives or the channel ends.
	Next() (Message, error)
	Close() error
}

// Dialer opens the push channel.
type Dialer interface {
	Open(ctx context.Context, url string) (Source, error)
}

// HTTPDialer opens text/event-stream channels over HTTP.
type HTTPDialer struct {
	Client *http.Client
}

// NewHTTPDialer returns a dialer without a client-side deadline; the channel
// lives until the context is cancelled.
func NewHTTPDialer() *HTTPDialer {
	return &HTTPDialer{Client: &http.Client{Timeout: 0}}
}

// Open connects and verifies the response is an event stream.
func (d *HTTPDialer) Open(ctx context.Context, url string) (Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("SSE connection failed with status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	return newEventReader(resp.Body), nil
}

// eventReader parses the event-stream framing: "event:" and "data:" fields,
// comments starting with ":", blank line terminates an event.
type eventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventReader(body io.ReadCloser) *eventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)
	return &eventReader{body: body, scanner: scanner}
}

func (r *eventReader) Next() (Message, error) {
	var (
		eventType string
		data      strings.Builder
		hasData   bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		switch {
		case line == "":
			if !hasData {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = DefaultEventName
			}
			return Message{Event: eventType, Data: data.String()}, nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			value = strings.TrimPrefix(value, " ")
			if hasData {
				data.WriteString("\n")
			}
			data.WriteString(value)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func (r *eventReader) Close() error {
	return r.body.Close()
}
