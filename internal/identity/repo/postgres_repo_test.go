//go:build integration

package repo

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
)

// PostgresRepoSuite runs against DATABASE_URL: go test -tags integration ./...
type PostgresRepoSuite struct {
	suite.Suite
	db   *sqlx.DB
	repo *PostgresRepo
}

func TestPostgresRepoSuite(t *testing.T) {
	suite.Run(t, new(PostgresRepoSuite))
}

func (s *PostgresRepoSuite) SetupSuite() {
	db, err := database.Connect(context.Background(), database.ConfigFromEnv())
	s.Require().NoError(err)
	s.db = db
	s.repo = NewPostgresRepo(db)
	s.Require().NoError(s.repo.EnsureTables(context.Background()))
}

func (s *PostgresRepoSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PostgresRepoSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE events, identity_graph`)
	s.Require().NoError(err)
}

func (s *PostgresRepoSuite) TestInsertAndRollup() {
	ctx := context.Background()
	n, err := s.repo.InsertEdges(ctx, []entity.Edge{
		{AnonymousID: "anon_a", UserID: "u1", Email: "a@b.c", Method: entity.MethodLogin, Confidence: 1,
			FirstSeen: "2024-01-01 00:00:00.000", LastSeen: "2024-01-01 00:00:00.000", Metadata: `{"source":"test"}`},
		{AnonymousID: "anon_b", UserID: "u1", Method: entity.MethodUserID, Confidence: 1,
			FirstSeen: "2024-02-01 00:00:00.000", LastSeen: "2024-02-01 00:00:00.123"},
	})
	s.Require().NoError(err)
	s.Equal(2, n)

	rows, err := s.repo.ProfileRows(ctx, ProfileQuery{UserIDs: []string{"u1"}})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal([]string{"anon_a", "anon_b"}, rows[0].AnonymousIDs)
	s.Equal([]string{"a@b.c"}, rows[0].Emails)
	s.Equal([]string{}, rows[0].Phones)
	s.EqualValues(2, rows[0].EdgeCount)
	s.Equal("2024-02-01 00:00:00.123", rows[0].LastSeen)

	rows, err = s.repo.ProfileRows(ctx, ProfileQuery{Email: "a@b.c"})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.EqualValues(2, rows[0].EdgeCount, "matched by email, rolled up over every edge of the user")
}

func (s *PostgresRepoSuite) TestFindEdgesAndDelete() {
	ctx := context.Background()
	_, err := s.repo.InsertEdges(ctx, []entity.Edge{
		{AnonymousID: "anon_a", Email: "a@b.c", Method: entity.MethodEmail, Confidence: 1,
			FirstSeen: "2024-01-01 00:00:00.000", LastSeen: "2024-01-01 00:00:00.000"},
		{AnonymousID: "anon_z", DeviceFingerprint: "fp", Method: entity.MethodDeviceObservation, Confidence: 0.8,
			FirstSeen: "2024-01-01 00:00:00.000", LastSeen: "2024-01-01 00:00:00.000"},
	})
	s.Require().NoError(err)
	_, err = s.repo.InsertEvents(ctx, []entity.Event{
		{EventID: "e1", AnonymousID: "anon_a", EventName: "page_view", Properties: `{}`, Context: `{}`, Timestamp: "2024-01-01 00:00:00.000"},
	})
	s.Require().NoError(err)

	ids, err := s.repo.AnonymousIDsByContact(ctx, "a@b.c", "")
	s.Require().NoError(err)
	s.Equal([]string{"anon_a"}, ids)

	sets := entity.SetsFromSeed(entity.Seed{Email: "a@b.c"})
	edges, err := s.repo.FindEdges(ctx, sets)
	s.Require().NoError(err)
	s.Len(edges, 1)

	sets.AnonymousIDs.Add("anon_a")
	job, err := s.repo.DeleteEdges(ctx, sets)
	s.Require().NoError(err)
	s.Empty(job)
	_, err = s.repo.DeleteEvents(ctx, sets)
	s.Require().NoError(err)

	var left int
	s.Require().NoError(s.db.Get(&left, `SELECT count(*) FROM identity_graph`))
	s.Equal(1, left)
	s.Require().NoError(s.db.Get(&left, `SELECT count(*) FROM events`))
	s.Equal(0, left)
}
