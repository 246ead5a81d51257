package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/switchboard-io/switchboard/pkg/bus"
)

// webhookHandler handles POST /api/webhook: conversation events arriving
// over HTTP instead of the mesh. The envelope goes through the same
// dedupe and dispatch path as NOTIFY deliveries, so a webhook retry of
// an already-meshed event is a no-op.
func (s *Server) webhookHandler(c *gin.Context) {
	if s.ingress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingress not available"})
		return
	}

	var envelope bus.MessageEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope: " + err.Error()})
		return
	}
	if envelope.ConversationID == "" || envelope.Message.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId and message.id are required"})
		return
	}
	if envelope.Type == "" {
		envelope.Type = bus.EventMessageNew
	}

	if err := s.ingress.DeliverLocal(c.Request.Context(), envelope); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"conversation_id": envelope.ConversationID,
		"message_id":      envelope.Message.ID,
	})
}
