package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/client"
	"github.com/noah-isme/enrollment-api/internal/repository"
	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type portalAPI interface {
	Ping(ctx context.Context) (*client.PortalStatus, error)
	GetCourses(ctx context.Context) ([]client.PortalCourse, error)
	GetEnrollmentStatus(ctx context.Context, cedula string) ([]client.PortalEnrollment, error)
}

type courseCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SyncService fronts the sister system's API for operators, with a
// short-lived cache on the course catalogue.
type SyncService struct {
	portal portalAPI
	cache  courseCache
	cfg    config.EnrollmentConfig
	logger *zap.Logger
}

// NewSyncService constructs SyncService. cache may be nil, in which case
// every course lookup goes to the sister system.
func NewSyncService(portal portalAPI, cache courseCache, cfg config.EnrollmentConfig, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{portal: portal, cache: cache, cfg: cfg, logger: logger}
}

// TestConnection pings the sister system. Errors pass through untouched
// so the handler can show the operator the raw status and message, which
// is the whole point of this endpoint.
func (s *SyncService) TestConnection(ctx context.Context) (*client.PortalStatus, error) {
	return s.portal.Ping(ctx)
}

// Courses returns the sister system's course catalogue, served from the
// cache when fresh.
func (s *SyncService) Courses(ctx context.Context) ([]client.PortalCourse, error) {
	if s.cache != nil {
		var cached []client.PortalCourse
		if err := s.cache.Get(ctx, repository.CacheKeyPortalCourses, &cached); err == nil {
			return cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.Error(err))
		}
	}

	courses, err := s.portal.GetCourses(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.CacheKeyPortalCourses, courses, s.cfg.CoursesCacheTTL); err != nil {
			s.logger.Warn("course cache write failed", zap.Error(err))
		}
	}
	return courses, nil
}

// RefreshCourses drops the cached catalogue and refetches it.
func (s *SyncService) RefreshCourses(ctx context.Context) ([]client.PortalCourse, error) {
	if s.cache != nil {
		if err := s.cache.Delete(ctx, repository.CacheKeyPortalCourses); err != nil {
			s.logger.Warn("course cache invalidation failed", zap.Error(err))
		}
	}
	return s.Courses(ctx)
}

// EnrollmentStatus asks the sister system what it knows about a cedula.
func (s *SyncService) EnrollmentStatus(ctx context.Context, cedula string) ([]client.PortalEnrollment, error) {
	if cedula == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cedula required")
	}
	return s.portal.GetEnrollmentStatus(ctx, cedula)
}
