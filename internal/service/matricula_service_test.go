package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type mockMatriculaStudents struct {
	external map[string]string
}

func (m *mockMatriculaStudents) ExternalMatricula(ctx context.Context, studentID string) (string, error) {
	external, ok := m.external[studentID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return external, nil
}

type mockMatriculaEnrollments struct {
	existing map[string]string
}

func (m *mockMatriculaEnrollments) FirstMatricula(ctx context.Context, studentID string) (string, error) {
	return m.existing[studentID], nil
}

type mockCounter struct {
	mu       sync.Mutex
	sequence int64
	years    []int
	claims   map[string]string
}

func (m *mockCounter) Next(ctx context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.years = append(m.years, year)
	m.sequence++
	return m.sequence, nil
}

func (m *mockCounter) Claim(ctx context.Context, studentID, matricula string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if winner, ok := m.claims[studentID]; ok {
		return winner, false, nil
	}
	if m.claims == nil {
		m.claims = make(map[string]string)
	}
	m.claims[studentID] = matricula
	return matricula, true, nil
}

func newMatriculaFixture(external, existing map[string]string) (*MatriculaService, *mockCounter) {
	counter := &mockCounter{}
	svc := NewMatriculaService(
		&mockMatriculaStudents{external: external},
		&mockMatriculaEnrollments{existing: existing},
		counter,
		nil,
	)
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC) }
	return svc, counter
}

func TestAllocateOrReuseMintsFirstNumber(t *testing.T) {
	svc, counter := newMatriculaFixture(map[string]string{"stu-1": ""}, nil)

	matricula, firstTime, err := svc.AllocateOrReuse(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "26-0001", matricula)
	assert.True(t, firstTime)
	assert.Equal(t, []int{2026}, counter.years)
}

func TestAllocateOrReuseReusesEnrollmentMatricula(t *testing.T) {
	svc, counter := newMatriculaFixture(
		map[string]string{"stu-1": ""},
		map[string]string{"stu-1": "25-0042"},
	)

	matricula, firstTime, err := svc.AllocateOrReuse(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "25-0042", matricula)
	assert.False(t, firstTime)
	assert.Empty(t, counter.years, "counter must not advance when reusing")
}

func TestAllocateOrReuseExternalWins(t *testing.T) {
	svc, counter := newMatriculaFixture(
		map[string]string{"stu-1": "EXT-777"},
		map[string]string{"stu-1": "25-0042"},
	)

	matricula, firstTime, err := svc.AllocateOrReuse(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "EXT-777", matricula)
	assert.False(t, firstTime)
	assert.Empty(t, counter.years)
}

func TestAllocateOrReuseExternalOnFreshStudent(t *testing.T) {
	svc, _ := newMatriculaFixture(map[string]string{"stu-1": "EXT-777"}, nil)

	matricula, firstTime, err := svc.AllocateOrReuse(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "EXT-777", matricula)
	// No enrollment carries a number yet, so this is still the first
	// time the student is matriculated here.
	assert.True(t, firstTime)
}

func TestAllocateOrReuseUnknownStudent(t *testing.T) {
	svc, _ := newMatriculaFixture(nil, nil)

	_, _, err := svc.AllocateOrReuse(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAllocateOrReuseConcurrentSameStudent(t *testing.T) {
	svc, _ := newMatriculaFixture(map[string]string{"stu-1": ""}, nil)

	type outcome struct {
		matricula string
		firstTime bool
		err       error
	}
	const callers = 8
	start := make(chan struct{})
	results := make(chan outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			matricula, firstTime, err := svc.AllocateOrReuse(context.Background(), "stu-1")
			results <- outcome{matricula: matricula, firstTime: firstTime, err: err}
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	minted := 0
	for r := range results {
		require.NoError(t, r.err)
		seen[r.matricula] = true
		if r.firstTime {
			minted++
		}
	}
	// Everyone walks away with the same number and exactly one caller
	// is told the student is newly matriculated.
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, minted)
}

func TestAllocateOrReuseSequenceWidensPast9999(t *testing.T) {
	svc, counter := newMatriculaFixture(map[string]string{"stu-1": ""}, nil)
	counter.sequence = 9999

	matricula, _, err := svc.AllocateOrReuse(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "26-10000", matricula)
}
