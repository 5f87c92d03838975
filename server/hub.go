package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Comcast/entitymarkers/marker"
)

// Update is what a WebSocket client receives for each rebuilt set.
type Update struct {
	Target string           `json:"target"`
	Key    string           `json:"key"`
	Set    *marker.Snapshot `json:"set"`
}

const (
	// DefaultBuffer is the number of updates a slow client can
	// fall behind before updates to it are dropped.
	DefaultBuffer = 64

	writeWait = 10 * time.Second
)

type subscriber struct {
	target string
	c      chan *Update
}

// Hub streams rebuilt marker sets to WebSocket clients.  It's a
// marker.Publisher.
//
// A client can ask for a single target with "?target=ID".
type Hub struct {
	Logger *zap.Logger
	Buffer int

	// Current, if not nil, gives the updates a new client receives
	// before any live ones.
	Current func(target string) []*Update

	upgrader websocket.Upgrader
	subs     sync.Map
	dropped  int64
	mu       sync.Mutex
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		Logger: logger,
		Buffer: DefaultBuffer,
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	n := 0
	h.subs.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Dropped returns the number of updates not delivered to slow
// clients.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Publish never blocks.  A client that isn't keeping up misses
// updates.
func (h *Hub) Publish(ctx context.Context, targetID, key string, snap *marker.Snapshot) error {
	u := &Update{
		Target: targetID,
		Key:    key,
		Set:    snap,
	}
	h.subs.Range(func(k, v interface{}) bool {
		sub := v.(*subscriber)
		if sub.target != "" && sub.target != targetID {
			return true
		}
		select {
		case sub.c <- u:
		default:
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
			h.Logger.Warn("websocket client blocked", zap.Any("client", k))
		}
		return true
	})
	return nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("upgrade error", zap.Error(err))
		return
	}
	defer c.Close()

	buffer := h.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	var (
		id  = uuid.NewString()
		sub = &subscriber{
			target: r.FormValue("target"),
			c:      make(chan *Update, buffer),
		}
		ctl    = make(chan bool)
		done   = make(chan bool)
		logger = h.Logger.With(zap.String("client", id))
	)

	// Subscribe before reading the current sets so a rebuild in
	// between still reaches the client.
	h.subs.Store(id, sub)
	defer h.subs.Delete(id)

	var initial []*Update
	if h.Current != nil {
		initial = h.Current(sub.target)
	}
	logger.Info("websocket client connected", zap.String("target", sub.target))

	go func() {
		defer close(done)
		write := func(u *Update) bool {
			js, err := json.Marshal(u)
			if err != nil {
				logger.Error("marshal error", zap.Error(err))
				return true
			}
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.WriteMessage(websocket.TextMessage, js); err != nil {
				logger.Debug("write error", zap.Error(err))
				return false
			}
			return true
		}

		for _, u := range initial {
			if !write(u) {
				return
			}
		}

	LOOP:
		for {
			select {
			case <-ctl:
				break LOOP
			case <-r.Context().Done():
				break LOOP
			case u := <-sub.c:
				if !write(u) {
					break LOOP
				}
			}
		}
	}()

	// We don't expect anything from the client, but reading is
	// how we notice that it went away.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			logger.Debug("read error", zap.Error(err))
			break
		}
	}

	close(ctl)
	<-done
	logger.Info("websocket client disconnected")
}
