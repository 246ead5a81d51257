package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/switchboard-io/switchboard/pkg/conversation"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RunSummary is one run log row without the full result payload.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id"`
	OrgID          string    `json:"org_id,omitempty"`
	Trigger        string    `json:"trigger"`
	RulesMatched   int       `json:"rules_matched"`
	NewState       string    `json:"new_state,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunDetail adds the serialized RunResult to the summary.
type RunDetail struct {
	RunSummary
	Result json.RawMessage `json:"result,omitempty"`
}

func runSummary(r conversation.RunRecord) RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		ConversationID: r.ConversationID,
		OrgID:          r.OrgID,
		Trigger:        r.Trigger,
		RulesMatched:   r.RulesMatched,
		NewState:       string(r.NewState),
		DurationMs:     r.DurationMs,
		CreatedAt:      r.CreatedAt,
	}
}

// listRunsHandler handles GET /api/conversations/:id/runs, newest first.
func (s *Server) listRunsHandler(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxRunsLimit)
	}

	records, err := s.store.Runs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	summaries := make([]RunSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, runSummary(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": c.Param("id"),
		"runs":            summaries,
	})
}

// getRunHandler handles GET /api/runs/:id with the full result payload.
func (s *Server) getRunHandler(c *gin.Context) {
	record, err := s.store.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	detail := RunDetail{RunSummary: runSummary(record)}
	if len(record.Payload) > 0 {
		detail.Result = json.RawMessage(record.Payload)
	}
	c.JSON(http.StatusOK, detail)
}
