package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/client"
	"github.com/noah-isme/enrollment-api/internal/repository"
	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type mockPortal struct {
	courses      []client.PortalCourse
	coursesCalls int
	pingErr      error
}

func (m *mockPortal) Ping(ctx context.Context) (*client.PortalStatus, error) {
	if m.pingErr != nil {
		return nil, m.pingErr
	}
	return &client.PortalStatus{Status: "success", Message: "ok"}, nil
}

func (m *mockPortal) GetCourses(ctx context.Context) ([]client.PortalCourse, error) {
	m.coursesCalls++
	return m.courses, nil
}

func (m *mockPortal) GetEnrollmentStatus(ctx context.Context, cedula string) ([]client.PortalEnrollment, error) {
	return []client.PortalEnrollment{{Cedula: cedula, Status: "pagado"}}, nil
}

type mockCourseCache struct {
	values map[string][]byte
}

func (m *mockCourseCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCourseCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = raw
	return nil
}

func (m *mockCourseCache) Delete(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func TestSyncServiceCoursesCaches(t *testing.T) {
	portal := &mockPortal{courses: []client.PortalCourse{{ID: 1, Nombre: "Inglés Básico", Activo: true}}}
	cache := &mockCourseCache{}
	svc := NewSyncService(portal, cache, config.EnrollmentConfig{CoursesCacheTTL: 10 * time.Minute}, nil)

	first, err := svc.Courses(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second call is served from the cache.
	second, err := svc.Courses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, portal.coursesCalls)
}

func TestSyncServiceRefreshBypassesCache(t *testing.T) {
	portal := &mockPortal{courses: []client.PortalCourse{{ID: 1, Nombre: "Inglés Básico"}}}
	cache := &mockCourseCache{}
	svc := NewSyncService(portal, cache, config.EnrollmentConfig{CoursesCacheTTL: 10 * time.Minute}, nil)

	_, err := svc.Courses(context.Background())
	require.NoError(t, err)

	portal.courses = append(portal.courses, client.PortalCourse{ID: 2, Nombre: "Francés"})
	refreshed, err := svc.RefreshCourses(context.Background())
	require.NoError(t, err)
	assert.Len(t, refreshed, 2)
	assert.Equal(t, 2, portal.coursesCalls)

	// The refetched catalogue replaced the cached one.
	var cached []client.PortalCourse
	require.NoError(t, cache.Get(context.Background(), repository.CacheKeyPortalCourses, &cached))
	assert.Len(t, cached, 2)
}

func TestSyncServiceCoursesWithoutCache(t *testing.T) {
	portal := &mockPortal{courses: []client.PortalCourse{{ID: 1}}}
	svc := NewSyncService(portal, nil, config.EnrollmentConfig{}, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Courses(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, portal.coursesCalls)
}

func TestSyncServiceTestConnectionPassesErrorThrough(t *testing.T) {
	portal := &mockPortal{pingErr: appErrors.Clone(appErrors.ErrUpstreamRejected, "portal rejected request (401): Token inválido")}
	svc := NewSyncService(portal, nil, config.EnrollmentConfig{}, nil)

	_, err := svc.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstreamRejected))
	assert.Contains(t, err.Error(), "Token inválido")
}

func TestSyncServiceEnrollmentStatusRequiresCedula(t *testing.T) {
	svc := NewSyncService(&mockPortal{}, nil, config.EnrollmentConfig{}, nil)

	_, err := svc.EnrollmentStatus(context.Background(), "")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	res, err := svc.EnrollmentStatus(context.Background(), "001-1234567-8")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "001-1234567-8", res[0].Cedula)
}
