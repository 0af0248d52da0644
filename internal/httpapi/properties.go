package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/lifecycle"
	"github.com/foxford/dispatchd/internal/models"
)

func (s *Server) readProperty(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		key := c.Param("property_id")
		value, present := cls.Properties[key]
		if !present {
			s.problem(c, apperr.Newf(apperr.KindClassPropertyNotFound, "property %q not set", key))
			return
		}
		c.JSON(http.StatusOK, gin.H{key: value})
	}
}

// updateProperty merges a single key into the class properties map; the
// body is the property's new JSON value. Existing keys are overwritten
// key-by-key, the document is never replaced wholesale.
func (s *Server) updateProperty(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil || len(body) == 0 {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, errors.New("empty property value")))
			return
		}
		var value interface{}
		if err := json.Unmarshal(body, &value); err != nil {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
			return
		}

		key := c.Param("property_id")
		updated, err := s.lifecycle.Update(c.Request.Context(), lifecycle.UpdateParams{
			ClassID:    cls.ID,
			Properties: map[string]interface{}{key: value},
		})
		if err != nil {
			s.problem(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{key: updated.Properties[key]})
	}
}
