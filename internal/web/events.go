package web

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"

	"signage/internal/display"
	appLog "signage/internal/log"
)

// DisplayStream is the SSE stream carrying view updates.
const DisplayStream = "display"

// Broadcaster pushes every new view to the connected pages over SSE.
type Broadcaster struct {
	server *sse.Server
}

func NewBroadcaster() *Broadcaster {
	server := sse.New()
	// Pages fetch /api/state on connect; replaying stale views would only
	// flash old content.
	server.AutoReplay = false
	server.CreateStream(DisplayStream)
	return &Broadcaster{server: server}
}

// Publish implements display.Notifier.
func (b *Broadcaster) Publish(v display.View) {
	data, err := json.Marshal(v)
	if err != nil {
		appLog.Error("web: encoding view failed", err)
		return
	}
	b.server.Publish(DisplayStream, &sse.Event{Data: data})
}

// ServeHTTP subscribes the client to the display stream.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		q := r.URL.Query()
		q.Set("stream", DisplayStream)
		r.URL.RawQuery = q.Encode()
	}
	b.server.ServeHTTP(w, r)
}

// Close disconnects all subscribers.
func (b *Broadcaster) Close() {
	b.server.Close()
}
