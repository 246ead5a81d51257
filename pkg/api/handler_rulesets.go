package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/switchboard-io/switchboard/pkg/rules"
)

// RuleSetSummary is the list-view shape: metadata without the rule
// bodies.
type RuleSetSummary struct {
	Key          string `json:"key"`
	AssistantKey string `json:"assistant_key"`
	OrgID        string `json:"org_id"`
	Version      int    `json:"version"`
	Active       bool   `json:"active"`
	RuleCount    int    `json:"rule_count"`
}

// listRuleSetsHandler handles GET /api/rulesets.
func (s *Server) listRuleSetsHandler(c *gin.Context) {
	snapshot := s.ruleSets.Snapshot()
	summaries := make([]RuleSetSummary, 0, len(snapshot))
	for key, rs := range snapshot {
		summaries = append(summaries, RuleSetSummary{
			Key:          key,
			AssistantKey: rs.AssistantKey,
			OrgID:        rs.OrgID,
			Version:      rs.Version,
			Active:       rs.Active,
			RuleCount:    len(rs.Rules),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })
	c.JSON(http.StatusOK, gin.H{"rule_sets": summaries})
}

// putRuleSetHandler handles PUT /api/rulesets/:assistant/:org. The path
// decides which set is written; the body's assistant/org fields are
// overwritten so a mislabeled body cannot clobber a different key. The
// registry bumps the version past the installed one, then the installed
// copy is persisted so a restart reloads what is actually serving.
func (s *Server) putRuleSetHandler(c *gin.Context) {
	var rs rules.RuleSet
	if err := c.ShouldBindJSON(&rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule set: " + err.Error()})
		return
	}
	rs.AssistantKey = c.Param("assistant")
	rs.OrgID = c.Param("org")
	if rs.OrgID == "default" {
		rs.OrgID = ""
	}

	if err := s.ruleSets.Put(&rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	installed := s.ruleSets.Snapshot()[rs.Key()]
	if s.ruleStore != nil {
		if err := s.ruleStore.Save(c.Request.Context(), installed); err != nil {
			s.logger.Error("Rule set installed but not persisted",
				"key", installed.Key(), "error", err)
			c.JSON(http.StatusOK, gin.H{
				"key":       installed.Key(),
				"version":   installed.Version,
				"persisted": false,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"key":       installed.Key(),
		"version":   installed.Version,
		"persisted": s.ruleStore != nil,
	})
}

// reloadRuleSetsHandler handles POST /api/rulesets/reload: re-read the
// configured rule set sources and swap the registry wholesale.
func (s *Server) reloadRuleSetsHandler(c *gin.Context) {
	if s.reload == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reload not available"})
		return
	}
	sets, err := s.reload()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reload failed: " + err.Error()})
		return
	}
	if err := s.ruleSets.ReplaceAll(sets); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reload rejected: " + err.Error()})
		return
	}
	s.logger.Info("Rule sets reloaded", "count", len(sets))
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "count": len(sets)})
}
