package ws

import (
	"net/http"
	"sync"
	"time"

	"flavorfleet/internal/middleware"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sseSender writes Server-Sent Events to a streaming response.
type sseSender struct {
	mu     sync.Mutex
	w      gin.ResponseWriter
	rc     *http.ResponseController
	closed bool
}

func newSSESender(w gin.ResponseWriter) *sseSender {
	return &sseSender{w: w, rc: http.NewResponseController(w)}
}

// Send fails instead of blocking past writeWait on a client that stopped reading.
func (s *sseSender) Send(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	_ = s.rc.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sse.Encode(s.w, sse.Event{Event: event, Data: string(data)}); err != nil {
		return err
	}
	return s.rc.Flush()
}

// close stops further writes once the handler has returned.
func (s *sseSender) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// ServeSSE streams live notifications to the authenticated user. Mount after
// middleware.StreamAuthRequired.
func ServeSSE(hub *Hub, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		h := c.Writer.Header()
		h.Set("Content-Type", sse.ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		sender := newSSESender(c.Writer)
		defer sender.close()

		conn, err := hub.Subscribe(userID, sender)
		if err != nil {
			log.Warn("sse subscribe failed", zap.Uint("user_id", userID), zap.Error(err))
			return
		}
		select {
		case <-c.Request.Context().Done():
			hub.Unsubscribe(userID, conn)
		case <-conn.Done():
		}
	}
}
