package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"flavorfleet/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the WebSocket frame carrying one live event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(event string, data []byte) error {
	if !json.Valid(data) {
		data, _ = json.Marshal(string(data))
	}
	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

func (w *wsSender) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *wsSender) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = w.conn.Close()
}

// UpgradeNotificationsWS upgrades to a WebSocket that carries the same live events as the SSE
// stream. Mount after middleware.StreamAuthRequired.
func UpgradeNotificationsWS(hub *Hub, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		sender := &wsSender{conn: conn}
		lc, err := hub.Subscribe(userID, sender)
		if err != nil {
			log.Warn("ws subscribe failed", zap.Uint("user_id", userID), zap.Error(err))
			sender.shutdown()
			return
		}
		go pingLoop(sender, lc)
		go func() {
			<-lc.Done()
			sender.shutdown()
		}()
		readPump(conn)
		hub.Unsubscribe(userID, lc)
	}
}

func pingLoop(s *wsSender, lc *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-lc.Done():
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				lc.Close(ReasonError)
				return
			}
		}
	}
}

// readPump discards client frames until the connection fails or is closed.
func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
