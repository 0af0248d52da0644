package httpapi

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/models"
)

const featurePolicy = "autoplay *; camera *; microphone *; display-capture *; fullscreen *"

// redirectToFrontend resolves the frontend registered for (scope, app) and
// issues a 307 carrying the dispatcher's own URL as a `backurl` parameter.
// An unregistered scope falls back to the default frontend base.
func (s *Server) redirectToFrontend(c *gin.Context) {
	tenant := c.Param("tenant")
	app := c.Param("app")
	scope := c.Query("scope")

	target := s.frontendBase + "/" + tenant + "/" + app
	if scope != "" {
		fe, err := s.frontends.FindFrontend(c.Request.Context(), scope, app)
		if err == nil {
			target = fe.RedirectURL
		} else if apperr.As(err).Kind != apperr.KindClassPropertyNotFound {
			s.logger.Error("frontend lookup failed", zap.Error(err), zap.String("scope", scope))
		}
	}

	redirect, err := url.Parse(target)
	if err != nil {
		s.problem(c, apperr.New(apperr.KindInternalFailure, err))
		return
	}
	q := redirect.Query()
	for key, values := range c.Request.URL.Query() {
		for _, v := range values {
			q.Add(key, v)
		}
	}

	backURL := *c.Request.URL
	backURL.RawQuery = ""
	backURL.Scheme = "https"
	backURL.Host = c.Request.Host
	q.Set("backurl", url.QueryEscape(backURL.String()))
	redirect.RawQuery = q.Encode()

	c.Header("Feature-Policy", featurePolicy)
	c.Redirect(http.StatusTemporaryRedirect, redirect.String())
}

// registerFrontend records the redirect URL serving (scope, app).
func (s *Server) registerFrontend(c *gin.Context) {
	var req struct {
		RedirectURL string `json:"redirect_url" binding:"required,url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
		return
	}
	err := s.frontends.UpsertFrontend(c.Request.Context(), models.Frontend{
		Scope:       c.Param("scope"),
		App:         c.Param("app"),
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		s.problem(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// rollbackScope drops every frontend registration for a scope and
// broadcasts scope.frontend.rollback so consumers abandon it.
func (s *Server) rollbackScope(c *gin.Context) {
	scope := c.Param("scope")
	if err := s.frontends.DeleteScope(c.Request.Context(), scope); err != nil {
		s.problem(c, err)
		return
	}
	if s.bus != nil {
		if err := s.bus.PublishScope(c.Request.Context(), scope, broker.LabelScopeFrontendRollback, gin.H{"scope": scope}); err != nil {
			s.logger.Error("failed to publish scope rollback", zap.Error(err), zap.String("scope", scope))
		}
	}
	c.Status(http.StatusOK)
}
