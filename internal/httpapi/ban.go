package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/internal/apperr"
)

// submitBan starts a ban operation for the account in the path.
func (s *Server) submitBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
		return
	}

	target := c.Param("account_id")
	opID, err := s.bans.Ban(c.Request.Context(), req.ClassID, target, req.Ban, req.LastSeenOpID)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"op_id": opID})
}

// lastBanOperation returns the last operation id seen for the account, 0
// when no ban was ever started.
func (s *Server) lastBanOperation(c *gin.Context) {
	op, err := s.bans.LastOperation(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		s.problem(c, err)
		return
	}
	var lastSeen int64
	if op != nil {
		lastSeen = op.LastOpID
	}
	c.JSON(http.StatusOK, gin.H{"last_seen_op_id": lastSeen})
}
