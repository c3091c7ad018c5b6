package gateway

import (
	"sync"

	"github.com/google/uuid"
	"github.com/soyeahso/dialtask/internal/logging"
)

// LiveStream is what the registry needs from a served media stream.
// *twilio.Stream satisfies it.
type LiveStream interface {
	CallSid() string
	Close()
}

// StreamRegistry tracks the media streams currently being served.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]LiveStream // connID → stream
	log     *logging.Logger
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry(log *logging.Logger) *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]LiveStream),
		log:     log,
	}
}

// Add registers a stream and returns its connection ID.
func (r *StreamRegistry) Add(s LiveStream) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = s
	r.log.Debug().Str("conn_id", id).Int("streams", len(r.streams)).Msg("stream registered")
	return id
}

// Remove unregisters a stream by connection ID.
func (r *StreamRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, connID)
	r.log.Debug().Str("conn_id", connID).Int("streams", len(r.streams)).Msg("stream removed")
}

// Count returns the number of live streams.
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// CallSids lists the calls with a live stream. Streams that have not
// started yet are skipped.
func (r *StreamRegistry) CallSids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, s := range r.streams {
		if sid := s.CallSid(); sid != "" {
			out = append(out, sid)
		}
	}
	return out
}

// CloseAll closes every live stream. Serve loops then unregister
// themselves.
func (r *StreamRegistry) CloseAll() {
	r.mu.RLock()
	live := make([]LiveStream, 0, len(r.streams))
	for _, s := range r.streams {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		s.Close()
	}
}
