package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// Origins are not checked; the handshake passes through the bearer middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest selects the live query a socket follows. Each request replaces
// the previous one.
type wsRequest struct {
	Query  string `json:"query"`
	ID     string `json:"id,omitempty"`
	Since  int64  `json:"since,omitempty"`
	UserID string `json:"userId,omitempty"`
	Day    string `json:"day,omitempty"`
}

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`

	seq int
}

func (h *Handler) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	requests := make(chan wsRequest)
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	frames := make(chan wsFrame, 4)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var (
		seq  int
		stop func()
	)
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	for {
		var out wsFrame
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case req := <-requests:
			if stop != nil {
				stop()
				stop = nil
			}
			seq++
			stop, err = h.follow(ctx, req, seq, frames)
			if err != nil {
				out = wsFrame{Event: "error", Error: err.Error()}
				break
			}
			continue
		case f := <-frames:
			if f.seq != seq {
				continue
			}
			out = f
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(out); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

// follow opens the live query named by req and relays it into frames.
func (h *Handler) follow(ctx context.Context, req wsRequest, seq int, frames chan<- wsFrame) (func(), error) {
	switch req.Query {
	case "all":
		return relay(ctx, h.acc.GetAll(ctx), listBody, seq, frames), nil
	case "since":
		return relay(ctx, h.acc.GetByUploadedTime(ctx, req.Since), listBody, seq, frames), nil
	case "id":
		if req.ID == "" {
			return nil, badRequest("id required")
		}
		return relay(ctx, h.acc.GetByID(ctx, req.ID), recordBody, seq, frames), nil
	case "userDay":
		if req.UserID == "" {
			return nil, badRequest("userId required")
		}
		day, err := time.ParseInLocation(dayLayout, req.Day, h.acc.Location())
		if err != nil {
			return nil, badRequest("day must be YYYY-MM-DD")
		}
		return relay(ctx, h.acc.GetByUserAndDay(ctx, req.UserID, day), dayBody, seq, frames), nil
	}
	return nil, badRequest("unknown query " + req.Query)
}

func relay[T any](ctx context.Context, s *attendance.Stream[T], body func(T) any, seq int, frames chan<- wsFrame) func() {
	go func() {
		for u := range s.Updates() {
			f := wsFrame{Event: "snapshot", Data: body(u.Value), seq: seq}
			if u.Err != nil {
				f = wsFrame{Event: "error", Error: u.Err.Error(), seq: seq}
			}
			select {
			case frames <- f:
			case <-s.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return s.Cancel
}
