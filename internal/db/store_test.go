package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-builder/internal/types"
)

// store is the method set shared by DB and Memory
type store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SaveKnowledgeGraph(ctx context.Context, userID string, kg *types.KnowledgeGraph, expectedRevision int64) (int64, error)
	DeleteUser(ctx context.Context, id string) error
	CreateSession(ctx context.Context, s *types.ResumeSession) error
	GetSession(ctx context.Context, id string) (*types.ResumeSession, error)
	ListSessions(ctx context.Context, userID string) ([]types.ResumeSession, error)
	SaveSession(ctx context.Context, s *types.ResumeSession) error
}

var (
	_ store = (*DB)(nil)
	_ store = (*Memory)(nil)
)

// setupTestDB connects to Postgres for integration testing.
// Skipped if DATABASE_URL is not set or connection fails.
func setupTestDB(t *testing.T) *DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestIntegration_PostgresStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	runStoreContract(t, db)
}

func runStoreContract(t *testing.T, s store) {
	t.Run("user lifecycle", func(t *testing.T) { testUserLifecycle(t, s) })
	t.Run("duplicate email", func(t *testing.T) { testDuplicateEmail(t, s) })
	t.Run("knowledge graph revision", func(t *testing.T) { testKnowledgeGraphRevision(t, s) })
	t.Run("session lifecycle", func(t *testing.T) { testSessionLifecycle(t, s) })
	t.Run("session revision conflict", func(t *testing.T) { testSessionConflict(t, s) })
	t.Run("returned documents are copies", func(t *testing.T) { testCopies(t, s) })
}

func newTestUser(t *testing.T, s store) *User {
	t.Helper()
	u := &User{
		Email:        "Test-" + uuid.New().String() + "@Example.com ",
		Name:         "Test User",
		Phone:        "555-0100",
		PasswordHash: "hash",
		Socials:      map[string]string{"github": "https://github.com/test"},
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	t.Cleanup(func() { _ = s.DeleteUser(context.Background(), u.ID.String()) })
	return u
}

func testUserLifecycle(t *testing.T, s store) {
	ctx := context.Background()
	u := newTestUser(t, s)
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Equal(t, NormalizeEmail(u.Email), u.Email)

	got, err := s.GetUserByID(ctx, u.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.Name, got.Name)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.Equal(t, "https://github.com/test", got.Socials["github"])
	require.NotNil(t, got.KnowledgeGraph)
	assert.True(t, got.KnowledgeGraph.IsEmpty())
	assert.Equal(t, int64(0), got.KGRevision)

	byEmail, err := s.GetUserByEmail(ctx, "  "+u.Email+"  ")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	missing, err := s.GetUserByID(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = s.GetUserByEmail(ctx, "nobody-"+uuid.New().String()+"@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.DeleteUser(ctx, u.ID.String()))
	gone, err := s.GetUserByID(ctx, u.ID.String())
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func testDuplicateEmail(t *testing.T, s store) {
	u := newTestUser(t, s)
	dup := &User{Email: u.Email, Name: "Other"}
	err := s.CreateUser(context.Background(), dup)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func testKnowledgeGraphRevision(t *testing.T, s store) {
	ctx := context.Background()
	u := newTestUser(t, s)

	kg := types.NewKnowledgeGraph()
	kg.Skills = []string{"Go", "SQL"}
	kg.Education = []types.EducationRecord{{Institution: "MIT", Degree: "BS"}}

	rev, err := s.SaveKnowledgeGraph(ctx, u.ID.String(), kg, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	// Stale writer loses
	_, err = s.SaveKnowledgeGraph(ctx, u.ID.String(), types.NewKnowledgeGraph(), 0)
	assert.ErrorIs(t, err, ErrRevisionMismatch)

	got, err := s.GetUserByID(ctx, u.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.KGRevision)
	assert.Equal(t, []string{"Go", "SQL"}, got.KnowledgeGraph.Skills)
	require.Len(t, got.KnowledgeGraph.Education, 1)
	assert.Equal(t, "MIT", got.KnowledgeGraph.Education[0].Institution)
}

func newTestSession(t *testing.T, s store, userID string) *types.ResumeSession {
	t.Helper()
	sess := types.NewResumeSession(uuid.New().String(), userID, types.JobDetails{
		Role:        "Backend Engineer",
		Company:     "Acme",
		Description: "Go and Postgres",
	}, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func testSessionLifecycle(t *testing.T, s store) {
	ctx := context.Background()
	u := newTestUser(t, s)
	first := newTestSession(t, s, u.ID.String())
	second := newTestSession(t, s, u.ID.String())

	got, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StageInit, got.ResumeState.Stage)
	assert.Equal(t, "Acme", got.JobDetails.Company)
	assert.Equal(t, int64(0), got.Revision)

	got.ResumeState.Stage = types.StageJobAnalyzed
	got.JobDetails.ExtractedKeywords = []string{"go"}
	require.NoError(t, s.SaveSession(ctx, got))
	assert.Equal(t, int64(1), got.Revision)

	reloaded, err := s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StageJobAnalyzed, reloaded.ResumeState.Stage)
	assert.Equal(t, []string{"go"}, reloaded.JobDetails.ExtractedKeywords)

	list, err := s.ListSessions(ctx, u.ID.String())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "most recently saved session should come first")
	assert.Equal(t, second.ID, list[1].ID)

	none, err := s.ListSessions(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, none)

	missing, err := s.GetSession(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testSessionConflict(t *testing.T, s store) {
	ctx := context.Background()
	u := newTestUser(t, s)
	sess := newTestSession(t, s, u.ID.String())

	a, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	b, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	a.ResumeState.LastAction = "a"
	require.NoError(t, s.SaveSession(ctx, a))

	b.ResumeState.LastAction = "b"
	assert.ErrorIs(t, s.SaveSession(ctx, b), ErrRevisionMismatch)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ResumeState.LastAction)
}

func testCopies(t *testing.T, s store) {
	ctx := context.Background()
	u := newTestUser(t, s)
	sess := newTestSession(t, s, u.ID.String())

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	got.JobDetails.Role = "mutated"

	again, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", again.JobDetails.Role)

	user, err := s.GetUserByID(ctx, u.ID.String())
	require.NoError(t, err)
	user.KnowledgeGraph.Skills = append(user.KnowledgeGraph.Skills, "mutated")

	userAgain, err := s.GetUserByID(ctx, u.ID.String())
	require.NoError(t, err)
	assert.Empty(t, userAgain.KnowledgeGraph.Skills)
}

func TestSchemaDefinesDocumentTables(t *testing.T) {
	ddl := Schema()
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS resume_sessions")
	assert.Contains(t, ddl, "kg_revision")
	assert.Contains(t, ddl, "ON DELETE CASCADE")
}

func TestUserProfileOmitsSecrets(t *testing.T) {
	u := &User{ID: uuid.New(), Email: "a@b.com", Name: "A", PasswordHash: "secret"}
	p := u.Profile()
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, "a@b.com", p.Email)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}
