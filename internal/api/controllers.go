package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signal-trader/internal/campaign"
	"signal-trader/internal/engine"
	"signal-trader/pkg/db"
)

type startCampaignRequest struct {
	ID string `json:"id" binding:"omitempty,max=64"`
	campaign.Config
}

type historyQuery struct {
	Recent int `form:"recent" binding:"omitempty,min=0,max=100"`
}

type listEventsQuery struct {
	Campaign string    `form:"campaign"`
	Event    string    `form:"event"`
	Since    time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int       `form:"limit"`
}

func (q *listEventsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// engineError maps engine failures onto HTTP responses.
func engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, campaign.ErrDuplicateCampaign):
		respondError(c, http.StatusConflict, "DUPLICATE_CAMPAIGN", err.Error())
	case errors.Is(err, engine.ErrCampaignNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrInvalidConfig):
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
	case errors.Is(err, engine.ErrNoInstruments):
		respondError(c, http.StatusUnprocessableEntity, "NO_INSTRUMENTS", err.Error())
	default:
		respondError(c, http.StatusBadGateway, "ENGINE_ERROR", err.Error())
	}
}

func (s *Server) startCampaign(c *gin.Context) {
	var req startCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := s.Engine.Start(c.Request.Context(), req.ID, req.Config); err != nil {
		engineError(c, err)
		return
	}
	summary, err := s.Engine.Get(c.Request.Context(), req.ID)
	if err != nil {
		// ended between start and read, e.g. a stream closed immediately
		c.JSON(http.StatusCreated, gin.H{"id": req.ID})
		return
	}
	c.JSON(http.StatusCreated, summary)
}

func (s *Server) stopCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.Stop(c.Request.Context(), id); err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "stopped"})
}

func (s *Server) stopAllCampaigns(c *gin.Context) {
	n := s.Engine.StopAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"stopped": n})
}

func (s *Server) listCampaigns(c *gin.Context) {
	out := slices.Collect(s.Engine.List(c.Request.Context()))
	if out == nil {
		out = []campaign.Summary{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCampaign(c *gin.Context) {
	summary, err := s.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		engineError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listEvents(c *gin.Context) {
	if s.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "event journal is not configured")
		return
	}
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	records, err := s.Journal.ListEvents(c.Request.Context(), db.EventFilter{
		CampaignID: q.Campaign,
		Event:      q.Event,
		Since:      q.Since,
		Limit:      q.Limit,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("list events")
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to read events")
		return
	}
	if records == nil {
		records = []db.EventRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getPositionsHistory(c *gin.Context) {
	if s.History == nil {
		respondError(c, http.StatusServiceUnavailable, "HISTORY_DISABLED", "position history is not configured")
		return
	}
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	report, err := s.History.Report(c.Request.Context(), q.Recent)
	if err != nil {
		s.log.Error().Err(err).Msg("positions history")
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", "failed to load position history")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}
