package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foxford/dispatchd/internal/models"
)

// downloadClass returns {url} for the class's transcoded media; 404 while
// transcoding has not finished.
func (s *Server) downloadClass(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		cls, ok := s.classOfKind(c, kind)
		if !ok {
			return
		}
		recordings, err := s.records.ListRecordingsByClass(c.Request.Context(), cls.ID)
		if err != nil {
			s.problem(c, err)
			return
		}
		url, err := s.download.URL(c.Request.Context(), cls, recordings)
		if err != nil {
			s.problem(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}
