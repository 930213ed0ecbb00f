package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
)

// streamSSE writes every update of s as a "snapshot" event until the client
// goes away or the stream ends. Stream errors are sent as "error" events.
func streamSSE[T any](c *gin.Context, h *Handler, s *attendance.Stream[T], body func(T) any) {
	defer s.Cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				return false
			}
			if u.Err != nil {
				h.logger.Warn("live query error", zap.String("path", c.FullPath()), zap.Error(u.Err))
				writeEvent(c, "error", map[string]string{"error": u.Err.Error()})
				return true
			}
			writeEvent(c, "snapshot", body(u.Value))
			return true
		case <-ping.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// writeEvent sends data as a single-line JSON payload.
func writeEvent(c *gin.Context, name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		b = []byte(`{"error":"encoding failed"}`)
		name = "error"
	}
	c.SSEvent(name, string(b))
}
