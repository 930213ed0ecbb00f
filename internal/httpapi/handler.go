// Package httpapi exposes the attendance accessor over HTTP, Server-Sent
// Events and WebSocket.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
	"attendancesvc/internal/docstore"
)

const dayLayout = "2006-01-02"

// Handler serves the /v1 attendance routes.
type Handler struct {
	acc       *attendance.Accessor
	svc       *attendance.Service
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewHandler builds a handler over acc and svc.
func NewHandler(acc *attendance.Accessor, svc *attendance.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{acc: acc, svc: svc, logger: logger, heartbeat: 15 * time.Second}
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/attendance", h.create)
	g.GET("/attendance", h.list)
	g.GET("/attendance/:id", h.get)
	g.PATCH("/attendance/:id", h.update)
	g.DELETE("/attendance/:id", h.delete)
	g.POST("/checkins", h.checkIn)
	g.GET("/users/:userId/days/:day", h.userDay)
	g.GET("/stream", h.websocket)
	g.GET("/exports/attendance.xlsx", h.export)
}

func (h *Handler) create(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	rec, err := attendance.ParseRecord(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, err := h.acc.Insert(c.Request.Context(), rec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": stored.ID, "uploadedAt": stored.UploadedAt})
}

func (h *Handler) checkIn(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	req, err := attendance.ParseRecord(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, created, err := h.svc.CheckIn(c.Request.Context(), req.UserID, req.AttendanceDate, req.Fields)
	if errors.Is(err, attendance.ErrUserRequired) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"record": rec, "created": created})
}

func (h *Handler) list(c *gin.Context) {
	var since *int64
	if v := c.Query("since"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be epoch milliseconds"})
			return
		}
		since = &ts
	}
	ctx := c.Request.Context()

	if wantsStream(c) {
		var s *attendance.Stream[[]attendance.Record]
		if since != nil {
			s = h.acc.GetByUploadedTime(ctx, *since)
		} else {
			s = h.acc.GetAll(ctx)
		}
		streamSSE(c, h, s, listBody)
		return
	}

	var (
		recs []attendance.Record
		err  error
	)
	if since != nil {
		recs, err = h.acc.ListSince(ctx, *since)
	} else {
		recs, err = h.acc.List(ctx)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listBody(recs))
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if wantsStream(c) {
		streamSSE(c, h, h.acc.GetByID(ctx, id), recordBody)
		return
	}
	rec, err := h.acc.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) update(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	fields, err := attendance.PatchFields(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.acc.Update(c.Request.Context(), c.Param("id"), fields); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.acc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) userDay(c *gin.Context) {
	day, err := time.ParseInLocation(dayLayout, c.Param("day"), h.acc.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
		return
	}
	userID := c.Param("userId")
	ctx := c.Request.Context()
	if wantsStream(c) {
		streamSSE(c, h, h.acc.GetByUserAndDay(ctx, userID, day), dayBody)
		return
	}
	rec, err := h.acc.FindByUserAndDay(ctx, userID, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dayBody(rec))
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, docstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	_ = c.Error(err)
	h.logger.Error("store call failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func wantsStream(c *gin.Context) bool {
	if ok, _ := strconv.ParseBool(c.Query("watch")); ok {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func listBody(recs []attendance.Record) any { return gin.H{"records": recs} }

func recordBody(rec *attendance.Record) any {
	if rec == nil {
		return nil
	}
	return rec
}

func dayBody(rec *attendance.Record) any { return gin.H{"record": recordBody(rec)} }
