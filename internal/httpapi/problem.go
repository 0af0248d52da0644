package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/pkg/response"
)

// problem converts any error into the {kind, title, detail, status} body
// at the HTTP boundary. Sentry-worthy kinds are logged at error level so
// the error-tracking collaborator picks them up; client-induced failures
// stay at warn.
func (s *Server) problem(c *gin.Context, err error) {
	ae := apperr.As(err)
	status := ae.Kind.HTTPStatus()

	if ae.Kind.Sentry() {
		s.logger.Error("request failed", zap.String("kind", string(ae.Kind)), zap.Error(err), zap.String("path", c.FullPath()))
	} else {
		s.logger.Warn("request rejected", zap.String("kind", string(ae.Kind)), zap.String("path", c.FullPath()))
	}

	response.Fail(c, status, string(ae.Kind), titleFor(ae.Kind), ae.Detail())
}

func titleFor(kind apperr.Kind) string {
	title := strings.ReplaceAll(string(kind), "_", " ")
	if title == "" {
		return title
	}
	return strings.ToUpper(title[:1]) + title[1:]
}
