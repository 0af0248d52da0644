package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/authzproxy"
	"github.com/foxford/dispatchd/internal/middleware"
)

// authorizeProxy rewrites and forwards an authz query from one of the
// trusted collaborators; the response is a bare JSON array of permitted
// actions in the caller's own vocabulary.
func (s *Server) authorizeProxy(c *gin.Context) {
	var req authzproxy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
		return
	}

	caller := authzproxy.ParseCaller(middleware.Account(c))
	permitted, err := s.authz.Authorize(c.Request.Context(), caller, c.Param("audience"), req)
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, permitted)
}
