package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newProject(owner string) *model.Project {
	return &model.Project{
		ID:      uuid.NewString(),
		Name:    "demo",
		Status:  model.StatusCreated,
		OwnerID: owner,
	}
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProject("owner-a")
	p.Description = "a demo project"
	p.SourceURL = "https://github.com/acme/demo"
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, model.StatusCreated, got.Status)
	assert.Equal(t, "a demo project", got.Description)
	assert.Equal(t, "https://github.com/acme/demo", got.SourceURL)

	_, err = s.GetProject(ctx, "missing")
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
}

func TestListProjectsOwnerFilterAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, s.CreateProject(ctx, newProject("owner-a")))
	}
	require.NoError(t, s.CreateProject(ctx, newProject("owner-b")))

	all, err := s.ListProjects(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := s.ListProjects(ctx, "owner-a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	page, err := s.ListProjects(ctx, "owner-a", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	rest, err := s.ListProjects(ctx, "owner-a", 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestUpdateProjectStatusOptimistic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProject("owner-a")
	require.NoError(t, s.CreateProject(ctx, p))

	require.NoError(t, s.UpdateProjectStatus(ctx, p.ID, model.StatusCreated, model.StatusFilesReady))

	// stale expectation loses
	err := s.UpdateProjectStatus(ctx, p.ID, model.StatusCreated, model.StatusFilesReady)
	assert.True(t, rverrors.IsKind(err, rverrors.KindConflict))

	// illegal transition rejected before touching the database
	err = s.UpdateProjectStatus(ctx, p.ID, model.StatusFilesReady, model.StatusCreated)
	assert.True(t, rverrors.IsKind(err, rverrors.KindConflict))
}

func TestFileRecordsReplaceSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := newProject("owner-a")
	require.NoError(t, s.CreateProject(ctx, p))

	first := []model.FileRecord{
		{ProjectID: p.ID, RelativePath: "a.go", Size: 10, ContentHash: "h1", Language: "Go"},
		{ProjectID: p.ID, RelativePath: "b.go", Size: 20, ContentHash: "h2", Language: "Go"},
	}
	require.NoError(t, s.CreateFileRecords(ctx, p.ID, first))

	n, err := s.CountFileRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := []model.FileRecord{
		{ProjectID: p.ID, RelativePath: "c.py", Size: 30, ContentHash: "h3", Language: "Python"},
	}
	require.NoError(t, s.CreateFileRecords(ctx, p.ID, second))

	records, err := s.ListFileRecords(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c.py", records[0].RelativePath)
	assert.Equal(t, "Python", records[0].Language)
}

func TestChunkUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []model.Chunk{
		{ID: "hash1", ProjectID: "proj-1", RelativePath: "a.go", StartByte: 0, EndByte: 100},
		{ID: "hash2", ProjectID: "proj-1", RelativePath: "a.go", StartByte: 100, EndByte: 150, SpillPath: "/tmp/spill"},
	}
	require.NoError(t, s.UpsertChunks(ctx, chunks))
	require.NoError(t, s.UpsertChunks(ctx, chunks))

	got, err := s.ListChunks(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[1].StartByte)

	paths, err := s.ListSpillPaths(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/spill"}, paths)
}

func TestReportRoundTripSortedFindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report := &model.Report{
		ID:          uuid.NewString(),
		ProjectID:   "proj-1",
		HealthScore: 82.5,
		Counts:      map[model.Severity]int{model.SeverityHigh: 1, model.SeverityLow: 1},
		Summary:     "two findings",
		Findings: []model.Finding{
			{ID: uuid.NewString(), Agent: model.AgentCodeQuality, Category: "style", Severity: model.SeverityLow, FilePath: "b.go", Lines: model.LineRange{Start: 3, End: 4}, Description: "minor"},
			{ID: uuid.NewString(), Agent: model.AgentSecurity, Category: "injection", Severity: model.SeverityHigh, FilePath: "a.go", Lines: model.LineRange{Start: 10, End: 12}, Description: "serious", Confidence: 0.9},
		},
	}
	require.NoError(t, s.CreateReport(ctx, report))

	got, err := s.LatestReport(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 82.5, got.HealthScore)
	assert.Equal(t, 1, got.Counts[model.SeverityHigh])
	require.Len(t, got.Findings, 2)
	// severity ordering: high before low
	assert.Equal(t, model.SeverityHigh, got.Findings[0].Severity)
	assert.Equal(t, "proj-1", got.Findings[0].ProjectID)
	assert.Equal(t, report.ID, got.Findings[0].ReportID)
}

func TestCreateReportRejectsUnanchoredFinding(t *testing.T) {
	s := newTestStore(t)

	report := &model.Report{
		ID:        uuid.NewString(),
		ProjectID: "proj-1",
		Counts:    map[model.Severity]int{},
		Findings: []model.Finding{
			{ID: uuid.NewString(), Agent: model.AgentStructure, Category: "summary", Severity: model.SeverityInfo, Description: "no anchor"},
		},
	}
	err := s.CreateReport(context.Background(), report)
	assert.True(t, rverrors.IsKind(err, rverrors.KindInternal))
}

func TestLatestReportPicksNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &model.Report{ID: "r1", ProjectID: "proj-1", Counts: map[model.Severity]int{}, Summary: "first"}
	require.NoError(t, s.CreateReport(ctx, older))
	// force distinct created_at ordering
	_, err := s.db.Exec("UPDATE reports SET created_at = created_at - 60 WHERE id = 'r1'")
	require.NoError(t, err)

	newer := &model.Report{ID: "r2", ProjectID: "proj-1", Counts: map[model.Severity]int{}, Summary: "second"}
	require.NoError(t, s.CreateReport(ctx, newer))

	got, err := s.LatestReport(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.ID)

	_, err = s.LatestReport(ctx, "proj-2")
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
}

func TestCascadingDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newProject("owner-a")
	require.NoError(t, s.CreateProject(ctx, p))
	require.NoError(t, s.CreateFileRecords(ctx, p.ID, []model.FileRecord{
		{ProjectID: p.ID, RelativePath: "a.go", Size: 1, ContentHash: "h"},
	}))
	require.NoError(t, s.UpsertChunks(ctx, []model.Chunk{
		{ID: "c1", ProjectID: p.ID, RelativePath: "a.go", EndByte: 1},
	}))
	require.NoError(t, s.CreateReport(ctx, &model.Report{
		ID: "r1", ProjectID: p.ID, Counts: map[model.Severity]int{},
		Findings: []model.Finding{{ID: "f1", Agent: model.AgentStructure, Category: "x", Severity: model.SeverityInfo, FilePath: "a.go", Description: "d"}},
	}))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err := s.GetProject(ctx, p.ID)
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
	n, err := s.CountFileRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	chunks, err := s.ListChunks(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = s.LatestReport(ctx, p.ID)
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
}

func TestApiKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	salt, err := model.NewSalt()
	require.NoError(t, err)
	key := &model.ApiKey{
		ID:      uuid.NewString(),
		OwnerID: "owner-a",
		Prefix:  "rvd_abc123",
		Salt:    salt,
		Hash:    model.HashSecret(salt, "s3cret"),
		Active:  true,
	}
	require.NoError(t, s.CreateApiKey(ctx, key))

	got, err := s.GetApiKeyByPrefix(ctx, "rvd_abc123")
	require.NoError(t, err)
	assert.True(t, got.Verify("s3cret"))
	assert.False(t, got.Verify("wrong"))

	require.NoError(t, s.TouchApiKey(ctx, key.ID))
	got, err = s.GetApiKeyByPrefix(ctx, "rvd_abc123")
	require.NoError(t, err)
	assert.False(t, got.LastUsed.IsZero())

	require.NoError(t, s.DeactivateApiKey(ctx, key.ID))
	got, err = s.GetApiKeyByPrefix(ctx, "rvd_abc123")
	require.NoError(t, err)
	assert.False(t, got.Verify("s3cret"))

	_, err = s.GetApiKeyByPrefix(ctx, "nope")
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
}
