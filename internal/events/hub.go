package events

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub ретранслирует события шины всем подключённым наблюдателям.
type Hub struct {
	bus *Bus
	log *logrus.Entry
	up  websocket.Upgrader
}

func NewHub(bus *Bus, log *logrus.Entry) *Hub {
	return &Hub{
		bus: bus,
		log: log,
		up: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// админ-фронт ходит с другого origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func RegisterRoutes(r *mux.Router, h *Hub) {
	r.HandleFunc("/ws/events", h.serve).Methods(http.MethodGet)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	// читатель только для обнаружения закрытия
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
