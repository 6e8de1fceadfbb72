package nbi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/lightpath-controller/internal/logging"
)

const writeWait = 10 * time.Second

// streamNotifications upgrades to a websocket and streams service
// notifications as JSON text frames until either side closes.
func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx, s.log)

	// Subscribe before the handshake completes so a client sees every
	// transition published after its dial returns.
	notes, cancel := s.services.Notifier().Subscribe(0)
	defer cancel()

	header := http.Header{}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		header.Set(RequestIDHeader, id)
	}
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Debug(ctx, "notification upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()
	log.Info(ctx, "notification stream opened", logging.String("remote", conn.RemoteAddr().String()))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case note, ok := <-notes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(note); err != nil {
				log.Debug(ctx, "notification write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			log.Info(ctx, "notification stream closed")
			return
		}
	}
}
