package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/switchboard-io/switchboard/pkg/bus"
	"github.com/switchboard-io/switchboard/pkg/conversation"
)

// writeError maps domain errors to HTTP responses. Anything unmapped is
// a 500 with the detail kept out of the body.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, bus.ErrOverloaded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "conversation mailbox overloaded"})
	default:
		s.logger.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
