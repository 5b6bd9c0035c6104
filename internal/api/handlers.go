package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	state, _ := s.eng.State()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"engine": state,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	token, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Snapshot())
}

func (s *Server) handleBudget(c *gin.Context) {
	c.JSON(http.StatusOK, s.eng.Snapshot().Budget)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	// persisted history when available, in-memory ring otherwise
	if s.repo != nil {
		trades, err := s.repo.GetTrades(c.Request.Context(), limit)
		if err != nil {
			s.log.Error().Err(err).Msg("trade query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": s.eng.RecentTrades(limit)})
}

func (s *Server) handlePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.patterns.Summaries()})
}

func (s *Server) handlePattern(c *gin.Context) {
	fp := c.Param("fingerprint")
	rec, ok := s.patterns.Get(fp)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "fingerprint not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":    rec,
		"negatives": s.negatives.ForFingerprint(fp),
	})
}

func (s *Server) handleHardNegatives(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{"negatives": s.negatives.Recent(limit)})
}

func (s *Server) handleFloors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"floors": s.eng.Snapshot().Floors})
}

func (s *Server) handleSummaries(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"summaries": []any{}})
		return
	}
	limit := queryInt(c, "limit", 30)
	summaries, err := s.repo.GetDailySummaries(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("summary query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load summaries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (s *Server) handleStart(c *gin.Context) {
	var req struct {
		Profile string `json:"profile"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Profile == "" {
		req.Profile = "standard"
	}

	s.eng.Start(req.Profile)
	state, profile := s.eng.State()
	c.JSON(http.StatusOK, gin.H{"state": state, "profile": profile})
}

func (s *Server) handlePause(c *gin.Context) {
	s.eng.Pause("operator_request")
	state, _ := s.eng.State()
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (s *Server) handleStop(c *gin.Context) {
	s.eng.Stop("operator_request")
	state, _ := s.eng.State()
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
