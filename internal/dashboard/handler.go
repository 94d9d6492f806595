package dashboard

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/pharmacore/localsync/internal/monitor"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/sync"
)

// StatsSource provides store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (db.Stats, error)
}

// StateSource provides the connectivity snapshot.
type StateSource interface {
	State() monitor.State
}

// StateData is the payload of /state and of the welcome message.
type StateData struct {
	Monitor monitor.State `json:"monitor"`
	Stats   *db.Stats     `json:"stats,omitempty"`
}

// Handler forwards sync status events to the dashboard server.
type Handler struct {
	server *Server
	state  StateSource
	stats  StatsSource
	logger *log.Logger
}

// NewHandler creates a handler connected to a dashboard server. A server
// without a state source gets the handler's State. Call it before Start.
func NewHandler(server *Server, state StateSource, stats StatsSource, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, state: state, stats: stats, logger: logger}
	if server.state == nil {
		server.state = h.State
	}
	return h
}

// State builds the current snapshot. It fits StateFunc.
func (h *Handler) State(ctx context.Context) (interface{}, error) {
	data := StateData{}
	if h.state != nil {
		data.Monitor = h.state.State()
	}
	if h.stats != nil {
		st, err := h.stats.Stats(ctx)
		if err != nil {
			return nil, err
		}
		data.Stats = &st
	}
	return data, nil
}

// OnStatus broadcasts one status event. A completed attempt is followed
// by refreshed statistics.
func (h *Handler) OnStatus(ev sync.Status) {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	h.server.BroadcastData(MessageTypeStatus, at, ev)

	if ev.Kind != sync.StatusSuccess && ev.Kind != sync.StatusError {
		return
	}
	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	if h.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := h.stats.Stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to read stats: %v", err)
		return
	}
	h.server.BroadcastData(MessageTypeStats, time.Now().UTC(), st)
}

func (h *Handler) broadcastState() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := h.State(ctx)
	if err != nil {
		h.logger.Printf("Failed to read state: %v", err)
		return
	}
	h.server.BroadcastData(MessageTypeState, time.Now().UTC(), snap)
}

// Run forwards every event of sub until it is closed or ctx is done. When
// the subscription lost events, clients get a fresh state snapshot.
func (h *Handler) Run(ctx context.Context, sub *sync.Subscription) {
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			h.OnStatus(ev)
			if n := sub.Dropped(); n > dropped {
				h.logger.Printf("Missed %d status event(s), resending state", n-dropped)
				dropped = n
				h.broadcastState()
			}
		}
	}
}
