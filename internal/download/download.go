// Package download hands out presigned URLs for a class's transcoded
// media. Media lives in the transcoder's HLS bucket; this service only
// checks that transcoding has finished and signs read access.
package download

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
	"github.com/foxford/dispatchd/pkg/storage"
)

// Service generates download URLs for transcoded classes.
type Service struct {
	s3     *storage.S3
	logger *zap.Logger
}

// New builds a Service. s3 may be nil when the deployment has no media
// bucket configured; URL then always fails.
func New(s3 *storage.S3, logger *zap.Logger) *Service {
	return &Service{s3: s3, logger: logger}
}

// URL returns a presigned GET URL for the class's HLS master playlist, or
// recording_not_found while transcoding has not finished.
func (s *Service) URL(ctx context.Context, cls *models.Class, recordings []models.Recording) (string, error) {
	if len(recordings) == 0 {
		return "", apperr.New(apperr.KindRecordingNotFound, errors.New("class has no recordings"))
	}
	for _, r := range recordings {
		if r.TranscodedAt == nil {
			return "", apperr.New(apperr.KindRecordingNotFound, errors.New("recordings are not transcoded yet"))
		}
	}
	if s.s3 == nil {
		return "", apperr.New(apperr.KindInternalFailure, errors.New("no media storage configured"))
	}

	key := mediaKey(cls)
	url, err := s.s3.GeneratePresignedDownloadURL(ctx, s.s3.MediaBucket(), key, s.s3.PresignExpire())
	if err != nil {
		return "", apperr.New(apperr.KindInternalFailure, err)
	}
	return url, nil
}

// mediaKey mirrors the transcoder's output layout:
// hls/<kind>/<audience>/<content_id>/master.m3u8.
func mediaKey(cls *models.Class) string {
	return fmt.Sprintf("hls/%s/%s/%s/master.m3u8", cls.Kind, cls.Audience, cls.ContentID)
}
