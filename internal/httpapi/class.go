package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/lifecycle"
	"github.com/foxford/dispatchd/internal/models"
)

func (s *Server) createClass(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createClassRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
			return
		}

		cls, err := s.lifecycle.Create(c.Request.Context(), lifecycle.CreateParams{
			Kind:       kind,
			Audience:   req.Audience,
			Scope:      req.Scope,
			Time:       req.Time.interval(),
			Tags:       req.Tags,
			Properties: req.Properties,
			Reserve:    req.Reserve,
			LockedChat: req.LockedChat,
			Whiteboard: req.Whiteboard,
		})
		if err != nil {
			s.problem(c, err)
			return
		}
		c.JSON(http.StatusCreated, viewOf(cls))
	}
}

func (s *Server) readClass(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, viewOf(cls))
	}
}

func (s *Server) readClassByScope(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, err := s.reader.FindByScope(c.Request.Context(), c.Param("audience"), c.Param("scope"))
		if err != nil {
			s.problem(c, err)
			return
		}
		if cls.Kind != kind {
			s.problem(c, apperr.New(apperr.KindClassNotFound, errors.New("class kind does not match route")))
			return
		}
		c.JSON(http.StatusOK, viewOf(cls))
	}
}

func (s *Server) updateClass(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		var req updateClassRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
			return
		}

		var iv *models.Interval
		if req.Time != nil {
			v := req.Time.interval()
			iv = &v
		}
		updated, err := s.lifecycle.Update(c.Request.Context(), lifecycle.UpdateParams{
			ClassID: cls.ID,
			Time:    iv,
			Reserve: req.Reserve,
			Host:    req.Host,
		})
		if err != nil {
			s.problem(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(updated))
	}
}

func (s *Server) recreateClass(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		var req recreateClassRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
			return
		}

		updated, err := s.lifecycle.Recreate(c.Request.Context(), lifecycle.RecreateParams{
			ClassID:         cls.ID,
			Time:            req.Time.interval(),
			LockedChat:      req.LockedChat,
			LockedQuestions: req.LockedQuestions,
		})
		if err != nil {
			s.problem(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(updated))
	}
}

func (s *Server) restartTranscoding(c *gin.Context) {
	cls, ok := s.classOfKind(c, models.KindWebinar)
	if !ok {
		return
	}
	var req restartTranscodingRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.problem(c, apperr.New(apperr.KindInvalidPayload, err))
		return
	}
	if err := s.pipeline.RestartTranscoding(c.Request.Context(), cls, req.Priority); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cls.ID})
}

// classOfKind fetches the :id class and checks the route's kind; a
// mismatch is reported as class_not_found so ids don't leak across kinds.
func (s *Server) classOfKind(c *gin.Context, kind models.Kind) (*models.Class, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.problem(c, apperr.New(apperr.KindInvalidParameter, errors.New("id is not a uuid")))
		return nil, false
	}
	cls, err := s.reader.FindByID(c.Request.Context(), id)
	if err != nil {
		s.problem(c, err)
		return nil, false
	}
	if cls.Kind != kind {
		s.problem(c, apperr.New(apperr.KindClassNotFound, errors.New("class kind does not match route")))
		return nil, false
	}
	return cls, true
}
