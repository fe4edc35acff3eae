package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"castd/pkg/receiver"
	"castd/pkg/session"
	"castd/pkg/status"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the response body for health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Receivers int    `json:"receivers"`
	Sessions  int    `json:"sessions"`
}

// ReceiverView is one receiver with its sink binding
type ReceiverView struct {
	receiver.Receiver
	SinkID string `json:"sink_id"`
}

// HealthHandler handles GET /api/v1/health
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Receivers: s.services.Registry.Len(),
		Sessions:  s.services.Coordinator.Len(),
	})
}

// ReceiversHandler handles GET /api/v1/receivers
func (s *Server) ReceiversHandler(c *gin.Context) {
	receivers := s.services.Registry.List()
	views := make([]ReceiverView, 0, len(receivers))
	for _, r := range receivers {
		view := ReceiverView{Receiver: r}
		if b, ok := s.services.Registry.Binding(r.Key()); ok {
			view.SinkID = b.SinkID
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

// RefreshHandler handles POST /api/v1/discovery/refresh
func (s *Server) RefreshHandler(c *gin.Context) {
	if s.services.Discovery == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "discovery disabled"})
		return
	}
	result, err := s.services.Discovery.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// SessionsHandler handles GET /api/v1/sessions
func (s *Server) SessionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Coordinator.Snapshot())
}

// SessionHandler handles GET /api/v1/sessions/:handle
func (s *Server) SessionHandler(c *gin.Context) {
	info, ok := s.services.Coordinator.Get(c.Param("handle"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: session.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetStatusHandler handles GET /api/v1/status
func (s *Server) GetStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Publisher.Latest())
}

// PublishStatusHandler handles POST /api/v1/status.
// The playback engine pushes a new snapshot; every subscriber gets it.
func (s *Server) PublishStatusHandler(c *gin.Context) {
	var st status.PlaybackStatus
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := st.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	n := s.services.Publisher.Publish(st)
	c.JSON(http.StatusAccepted, gin.H{"subscribers": n})
}

// SessionHistoryHandler handles GET /api/v1/history/sessions?limit=N
func (s *Server) SessionHistoryHandler(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	rows, err := s.services.Journal.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ReceiverHistoryHandler handles GET /api/v1/history/receivers?limit=N
func (s *Server) ReceiverHistoryHandler(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	events, err := s.services.Journal.ReceiverEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return 0, false
	}
	return limit, true
}
