package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type mockCallRepo struct {
	records     map[string]models.CallRecord
	statuses    map[string]models.CallStatusValue
	assignments map[string]string
	cursor      int64
	leads       []models.PendingLead
}

func newMockCallRepo() *mockCallRepo {
	return &mockCallRepo{
		records:     make(map[string]models.CallRecord),
		statuses:    make(map[string]models.CallStatusValue),
		assignments: make(map[string]string),
	}
}

func (m *mockCallRepo) CreateRecord(ctx context.Context, record *models.CallRecord) error {
	if record.ID == "" {
		record.ID = "rec-1"
	}
	m.records[record.ID] = *record
	return nil
}

func (m *mockCallRepo) FindRecordByID(ctx context.Context, id string) (*models.CallRecord, error) {
	if r, ok := m.records[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCallRepo) ListRecordsByEnrollment(ctx context.Context, enrollmentID string) ([]models.CallRecord, error) {
	var out []models.CallRecord
	for _, r := range m.records {
		if r.EnrollmentID == enrollmentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockCallRepo) UpdateRecordComment(ctx context.Context, id, comment string) error {
	r := m.records[id]
	r.Comment = comment
	m.records[id] = r
	return nil
}

func (m *mockCallRepo) UpsertStatus(ctx context.Context, enrollmentID string, status models.CallStatusValue) error {
	m.statuses[enrollmentID] = status
	return nil
}

func (m *mockCallRepo) UpsertAssignment(ctx context.Context, enrollmentID, agentID string) error {
	m.assignments[enrollmentID] = agentID
	return nil
}

func (m *mockCallRepo) AssignIfUnset(ctx context.Context, enrollmentID, agentID string) error {
	if _, ok := m.assignments[enrollmentID]; !ok {
		m.assignments[enrollmentID] = agentID
	}
	return nil
}

func (m *mockCallRepo) AdvanceCursor(ctx context.Context, n int) (int64, error) {
	m.cursor += int64(n)
	return m.cursor, nil
}

func (m *mockCallRepo) ListPendingLeads(ctx context.Context) ([]models.PendingLead, error) {
	return m.leads, nil
}

type mockCallEnrollments struct {
	rows map[string]models.Enrollment
}

func (m *mockCallEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.rows[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

type mockAgentLister struct {
	agents []models.User
}

func (m *mockAgentLister) ListActiveByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	return m.agents, nil
}

func agentList(ids ...string) []models.User {
	agents := make([]models.User, len(ids))
	for i, id := range ids {
		agents[i] = models.User{ID: id, Role: models.RoleAgent, Active: true}
	}
	return agents
}

type mockSummaryCache struct {
	entries map[string][]byte
	sets    int
}

func newMockSummaryCache() *mockSummaryCache {
	return &mockSummaryCache{entries: make(map[string][]byte)}
}

func (m *mockSummaryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockSummaryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	m.sets++
	return nil
}

func (m *mockSummaryCache) Delete(ctx context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

func callcenterFixture(agents []models.User) (*CallCenterService, *mockCallRepo, *mockAudit) {
	calls := newMockCallRepo()
	enrollments := &mockCallEnrollments{rows: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusApplied},
	}}
	audit := &mockAudit{}
	svc := NewCallCenterService(calls, enrollments, &mockAgentLister{agents: agents}, nil, audit, nil, nil, nil)
	return svc, calls, audit
}

func TestMarkCalled(t *testing.T) {
	svc, calls, audit := callcenterFixture(agentList("agent-1"))

	record, err := svc.MarkCalled(context.Background(), MarkCalledRequest{
		EnrollmentID: "enr-1",
		Status:       models.CallStatusContactado,
		Comment:      "answered, wants evening schedule",
		AgentID:      "agent-1",
		AgentName:    "Luis",
	})
	require.NoError(t, err)
	assert.Equal(t, "enr-1", record.EnrollmentID)
	assert.Equal(t, "audit-1", record.CallLogRef)
	assert.Equal(t, models.CallStatusContactado, calls.statuses["enr-1"])
	// Calling an unowned lead claims it.
	assert.Equal(t, "agent-1", calls.assignments["enr-1"])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionCallLogged, audit.entries[0].Action)
}

func TestMarkCalledKeepsExistingOwner(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("agent-1", "agent-2"))
	calls.assignments["enr-1"] = "agent-2"

	_, err := svc.MarkCalled(context.Background(), MarkCalledRequest{
		EnrollmentID: "enr-1",
		Status:       models.CallStatusNoContesta,
		AgentID:      "agent-1",
	})
	require.NoError(t, err)
	// An assigned lead stays with its owner; the new call record makes
	// the caller sticky on the next distribution instead.
	assert.Equal(t, "agent-2", calls.assignments["enr-1"])
}

func TestMarkCalledUnknownStatus(t *testing.T) {
	svc, _, _ := callcenterFixture(agentList("agent-1"))

	_, err := svc.MarkCalled(context.Background(), MarkCalledRequest{
		EnrollmentID: "enr-1",
		Status:       "maybe_later",
		AgentID:      "agent-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestMarkCalledRejectsMatriculatedRow(t *testing.T) {
	svc, _, _ := callcenterFixture(agentList("agent-1"))
	enrollments := svc.enrollments.(*mockCallEnrollments)
	row := enrollments.rows["enr-1"]
	row.Status = models.EnrollmentStatusMatriculated
	enrollments.rows["enr-1"] = row

	_, err := svc.MarkCalled(context.Background(), MarkCalledRequest{
		EnrollmentID: "enr-1",
		Status:       models.CallStatusContactado,
		AgentID:      "agent-1",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestEditComment(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("agent-1"))
	calls.records["rec-1"] = models.CallRecord{ID: "rec-1", EnrollmentID: "enr-1", Comment: "old"}

	record, err := svc.EditComment(context.Background(), "rec-1", "new comment", "")
	require.NoError(t, err)
	assert.Equal(t, "new comment", record.Comment)
	assert.Equal(t, "new comment", calls.records["rec-1"].Comment)
	// An empty status leaves the follow-up outcome untouched.
	assert.Empty(t, calls.statuses)
}

func TestEditCommentMovesFollowUpStatus(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("agent-1"))
	calls.records["rec-1"] = models.CallRecord{ID: "rec-1", EnrollmentID: "enr-1", Comment: "old"}
	calls.statuses["enr-1"] = models.CallStatusNoContesta

	record, err := svc.EditComment(context.Background(), "rec-1", "reached on second try", models.CallStatusContactado)
	require.NoError(t, err)
	assert.Equal(t, "reached on second try", record.Comment)
	// The outcome moves without a fresh call record.
	assert.Equal(t, models.CallStatusContactado, calls.statuses["enr-1"])
	assert.Len(t, calls.records, 1)
}

func TestEditCommentRejectsUnknownStatus(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("agent-1"))
	calls.records["rec-1"] = models.CallRecord{ID: "rec-1", EnrollmentID: "enr-1", Comment: "old"}

	_, err := svc.EditComment(context.Background(), "rec-1", "text", "maybe_later")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, "old", calls.records["rec-1"].Comment)
}

func TestEditCommentUnknownRecord(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("agent-1"))

	_, err := svc.EditComment(context.Background(), "missing", "text", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	// Never an insert.
	assert.Empty(t, calls.records)
}

func strPtr(s string) *string { return &s }

func TestDistributePendingRoundRobinFairness(t *testing.T) {
	svc, calls, audit := callcenterFixture(agentList("a1", "a2", "a3"))
	for i := 0; i < 9; i++ {
		calls.leads = append(calls.leads, models.PendingLead{EnrollmentID: string(rune('A' + i))})
	}

	result, err := svc.DistributePending(context.Background(), "admin-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, result.TotalPending)
	assert.Equal(t, 9, result.Rotated)
	assert.Equal(t, 0, result.Retained)
	assert.Equal(t, 3, result.PerAgent["a1"])
	assert.Equal(t, 3, result.PerAgent["a2"])
	assert.Equal(t, 3, result.PerAgent["a3"])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionDistributionRun, audit.entries[0].Action)
}

func TestDistributePendingContinuesRotationAcrossRuns(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1", "a2", "a3"))

	calls.leads = []models.PendingLead{{EnrollmentID: "L1"}, {EnrollmentID: "L2"}}
	_, err := svc.DistributePending(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", calls.assignments["L1"])
	assert.Equal(t, "a2", calls.assignments["L2"])

	// The next run picks up where the cursor left off instead of
	// restarting at the first agent.
	calls.leads = []models.PendingLead{{EnrollmentID: "L3"}}
	_, err = svc.DistributePending(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "a3", calls.assignments["L3"])
}

func TestDistributePendingStickyOwnership(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1", "a2"))
	calls.leads = []models.PendingLead{
		// Called by an active agent: stays put regardless of rotation.
		{EnrollmentID: "L1", AssignedAgentID: strPtr("a1"), LastCallAgentID: strPtr("a2")},
		// Assigned but never called: rotates.
		{EnrollmentID: "L2", AssignedAgentID: strPtr("a2")},
		// Last called by an agent who is no longer active: rotates.
		{EnrollmentID: "L3", LastCallAgentID: strPtr("gone")},
	}

	result, err := svc.DistributePending(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retained)
	assert.Equal(t, 2, result.Rotated)
	assert.Equal(t, "a2", calls.assignments["L1"])
	assert.Equal(t, "a1", calls.assignments["L2"])
	assert.Equal(t, "a2", calls.assignments["L3"])
}

func TestDistributePendingNoAgents(t *testing.T) {
	svc, _, _ := callcenterFixture(nil)

	_, err := svc.DistributePending(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestDistributePendingCandidateSubset(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1", "a2", "a3"))
	calls.leads = []models.PendingLead{
		// Last called by an active agent outside the chosen set: the
		// lead moves to somebody on shift.
		{EnrollmentID: "L1", LastCallAgentID: strPtr("a3")},
		{EnrollmentID: "L2"},
		{EnrollmentID: "L3"},
		{EnrollmentID: "L4"},
	}

	result, err := svc.DistributePending(context.Background(), "admin-1", []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retained)
	assert.Equal(t, 4, result.Rotated)
	assert.Equal(t, 2, result.PerAgent["a1"])
	assert.Equal(t, 2, result.PerAgent["a2"])
	assert.Zero(t, result.PerAgent["a3"])
	for _, lead := range calls.leads {
		owner := calls.assignments[lead.EnrollmentID]
		assert.Contains(t, []string{"a1", "a2"}, owner)
	}
}

func TestDistributePendingCandidateRetainsLastCaller(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1", "a2", "a3"))
	calls.leads = []models.PendingLead{
		{EnrollmentID: "L1", LastCallAgentID: strPtr("a2")},
	}

	result, err := svc.DistributePending(context.Background(), "", []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retained)
	assert.Equal(t, "a2", calls.assignments["L1"])
}

func TestDistributePendingRejectsInactiveCandidate(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1"))
	calls.leads = []models.PendingLead{{EnrollmentID: "L1"}}

	_, err := svc.DistributePending(context.Background(), "", []string{"a1", "gone"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	// Nothing is assigned when the candidate list does not validate.
	assert.Empty(t, calls.assignments)
}

func TestSummaryCountsBacklog(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1", "a2"))
	calls.leads = []models.PendingLead{
		{EnrollmentID: "L1", AssignedAgentID: strPtr("a1")},
		{EnrollmentID: "L2", AssignedAgentID: strPtr("a1")},
		{EnrollmentID: "L3"},
	}

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Assigned)
	assert.Equal(t, 1, summary.Unassigned)
	assert.Equal(t, 2, summary.PerAgent["a1"])
}

func TestSummaryServedFromCacheUntilInvalidated(t *testing.T) {
	svc, calls, _ := callcenterFixture(agentList("a1"))
	cache := newMockSummaryCache()
	svc.cache = cache
	calls.leads = []models.PendingLead{{EnrollmentID: "enr-1"}}

	first, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)
	assert.Equal(t, 1, cache.sets)

	// A grown backlog is invisible while the cached entry lives.
	calls.leads = append(calls.leads, models.PendingLead{EnrollmentID: "enr-2"})
	second, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)

	// Logging a call drops the entry, so the next read recounts.
	_, err = svc.MarkCalled(context.Background(), MarkCalledRequest{
		EnrollmentID: "enr-1",
		Status:       models.CallStatusContactado,
		AgentID:      "a1",
	})
	require.NoError(t, err)
	assert.NotContains(t, cache.entries, repository.CacheKeyPendingSummary)

	third, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, third.Total)
}
