package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWebSocket upgrades the connection and delegates to the
// ConnectionManager, which replays history and streams live events.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin validation is left to the deployment's proxy layer.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Blocks until the connection closes. Unknown negotiation ids are
	// rejected with close code 4004 by the connection manager.
	s.connManager.HandleConnection(c.Request.Context(), conn, c.Param("id"))
}
