package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/middleware"
	"github.com/foxford/dispatchd/internal/models"
)

// createEvent proxy-creates an event in the class's event room on behalf
// of the authenticated caller.
func (s *Server) createEvent(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		if cls.EventRoomID == nil {
			s.problem(c, apperr.New(apperr.KindClassNotFound, errors.New("class has no event room")))
			return
		}
		var req createEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
			return
		}

		agent := middleware.Account(c)
		if err := s.eventlog.CreateEvent(c.Request.Context(), *cls.EventRoomID, req.Type, req.Data, agent); err != nil {
			s.problem(c, err)
			return
		}
		c.Status(http.StatusCreated)
	}
}

// commitEdition kicks off an edition commit in the event-log service for
// the class at (audience, scope); the result arrives later as an
// edition.commit broker message and re-enters the pipeline there.
func (s *Server) commitEdition(c *gin.Context) {
	cls, err := s.reader.FindByScope(c.Request.Context(), c.Param("audience"), c.Param("scope"))
	if err != nil {
		s.problem(c, err)
		return
	}
	if cls.ModifiedEventRoomID == nil {
		s.problem(c, apperr.New(apperr.KindEditionFlowFailed, errors.New("class has not been adjusted yet")))
		return
	}
	if err := s.eventlog.CommitEdition(c.Request.Context(), c.Param("edition_id")); err != nil {
		s.problem(c, apperr.New(apperr.KindEditionFlowFailed, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cls.ID, "edition_id": c.Param("edition_id")})
}
