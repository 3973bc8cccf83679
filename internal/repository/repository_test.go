package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and
// returns a connection pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))
	// migrations must be safe to re-run on every start
	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func createPlace(t *testing.T, repo *PlaceRepository, name, city string, cat catalog.Category, loc *geo.Coordinate) *model.Place {
	t.Helper()
	p, err := repo.CreatePlace(context.Background(), &model.Place{
		Name:       name,
		City:       city,
		Category:   cat,
		Location:   loc,
		PointValue: 50,
	})
	require.NoError(t, err)
	return p
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_GetOrCreateUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreateUser(ctx, 12345, "traveller")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(12345), user.ID)
	assert.Equal(t, int64(0), user.Points)

	user, created, err = repo.GetOrCreateUser(ctx, 12345, "someone-else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "traveller", user.Username)

	_, err = repo.GetUser(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_IncrementPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.CreateUser(ctx, 1, "a")
	require.NoError(t, err)

	user, err := repo.IncrementPoints(ctx, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), user.Points)

	_, err = repo.IncrementPoints(ctx, 1, -10)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = repo.IncrementPoints(ctx, 404, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_TopUsers(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	for id, pts := range map[int64]int64{1: 10, 2: 300, 3: 150} {
		_, err := repo.CreateUser(ctx, id, "u")
		require.NoError(t, err)
		_, err = repo.IncrementPoints(ctx, id, pts)
		require.NoError(t, err)
	}

	top, err := repo.TopUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].ID)
	assert.Equal(t, int64(3), top[1].ID)

	require.NoError(t, repo.UpdateUsername(ctx, 1, "renamed"))
	assert.ErrorIs(t, repo.UpdateUsername(ctx, 404, "x"), ErrUserNotFound)
}

// ============================================================================
// PlaceRepository / CheckInRepository Tests
// ============================================================================

func TestPlaceRepository_CRUD(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPlaceRepository(pool)
	ctx := context.Background()

	located := createPlace(t, repo, "Galata Tower", "İstanbul", catalog.CategoryHistoric, &geo.Coordinate{Latitude: 41.0256, Longitude: 28.9742})
	bare := createPlace(t, repo, "Unknown Spot", "istanbul", catalog.CategoryOther, nil)

	got, err := repo.GetPlace(ctx, located.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 41.0256, got.Location.Latitude, 1e-9)
	assert.Equal(t, catalog.CategoryHistoric, got.Category)

	got, err = repo.GetPlace(ctx, bare.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Location)

	_, err = repo.GetPlace(ctx, 424242)
	assert.ErrorIs(t, err, ErrPlaceNotFound)

	require.NoError(t, repo.IncrementVisitCount(ctx, located.ID))
	got, err = repo.GetPlace(ctx, located.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.VisitCount)
	assert.ErrorIs(t, repo.IncrementVisitCount(ctx, 424242), ErrPlaceNotFound)

	// "İstanbul" and "istanbul" share a city key
	places, err := repo.ListPlacesByCity(ctx, "ISTANBUL")
	require.NoError(t, err)
	assert.Len(t, places, 2)
}

func TestPlaceRepository_ListPlacesNear(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPlaceRepository(pool)
	ctx := context.Background()

	center := geo.Coordinate{Latitude: 41.0, Longitude: 29.0}
	near := createPlace(t, repo, "Near", "x", catalog.CategoryPark, &geo.Coordinate{Latitude: 41.001, Longitude: 29.0})
	nearer := createPlace(t, repo, "Nearer", "x", catalog.CategoryPark, &center)
	createPlace(t, repo, "Far", "x", catalog.CategoryPark, &geo.Coordinate{Latitude: 41.1, Longitude: 29.0})
	createPlace(t, repo, "Nowhere", "x", catalog.CategoryPark, nil)

	places, err := repo.ListPlacesNear(ctx, center, 500, 10)
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, nearer.ID, places[0].ID)
	assert.Equal(t, near.ID, places[1].ID)

	places, err = repo.ListPlacesNear(ctx, center, 500, 1)
	require.NoError(t, err)
	assert.Len(t, places, 1)
}

func TestCheckInRepository_Create(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	places := NewPlaceRepository(pool)
	repo := NewCheckInRepository(pool)
	ctx := context.Background()

	p := createPlace(t, places, "Moda Park", "istanbul", catalog.CategoryPark, &geo.Coordinate{Latitude: 40.98, Longitude: 29.02})
	note := "sunny"

	first, err := repo.CreateCheckIn(ctx, &model.CheckIn{UserID: 7, PlaceID: p.ID, Coordinate: *p.Location, Note: &note})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
	require.NotNil(t, first.Note)
	assert.Equal(t, "sunny", *first.Note)

	// revisits are separate rows
	_, err = repo.CreateCheckIn(ctx, &model.CheckIn{UserID: 7, PlaceID: p.ID, Coordinate: *p.Location})
	require.NoError(t, err)

	list, err := repo.ListCheckIns(ctx, 7, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := repo.GetCheckIn(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.PlaceID)
	assert.Equal(t, int64(7), got.UserID)

	_, err = repo.GetCheckIn(ctx, 999)
	assert.ErrorIs(t, err, ErrCheckInNotFound)
}

// ============================================================================
// ChallengeRepository / ProgressRepository Tests
// ============================================================================

func createChallenge(t *testing.T, pool *pgxpool.Pool, city string, bonus int64, targets ...int64) *model.Challenge {
	t.Helper()
	c := &model.Challenge{
		City:       city,
		Title:      "Test",
		Kind:       model.ChallengeKindCollection,
		Difficulty: model.DifficultyEasy,
		PointValue: bonus,
	}
	for _, id := range targets {
		target := id
		c.Requirements = append(c.Requirements, model.Requirement{
			Kind:        model.RequirementVisitPlace,
			TargetID:    &target,
			TargetCount: 1,
		})
	}
	created, err := NewChallengeRepository(pool).CreateChallenge(context.Background(), c)
	require.NoError(t, err)
	return created
}

func TestChallengeRepository_CreateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	created := createChallenge(t, pool, "Izmir", 100, 11, 12, 13)
	require.Len(t, created.Requirements, 3)
	assert.Equal(t, int64(11), *created.Requirements[0].TargetID)

	got, err := repo.GetChallenge(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, got.Requirements, 3)

	list, err := repo.ListChallengesByCity(ctx, "izmir")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Requirements, 3)

	n, err := repo.CountChallengesByCity(ctx, "IZMIR")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req, err := repo.GetRequirement(ctx, created.Requirements[1].ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, req.ChallengeID)

	_, err = repo.GetChallenge(ctx, 999)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = repo.GetRequirement(ctx, 999)
	assert.ErrorIs(t, err, ErrRequirementNotFound)

	// invalid requirements never reach the database
	_, err = repo.CreateChallenge(ctx, &model.Challenge{
		City:         "izmir",
		Title:        "broken",
		Kind:         model.ChallengeKindManual,
		Requirements: []model.Requirement{{Kind: model.RequirementVisitPlace, TargetCount: 1}},
	})
	assert.ErrorIs(t, err, model.ErrInvalidRequirement)
}

func createCheckIn(t *testing.T, pool *pgxpool.Pool, userID int64) int64 {
	t.Helper()
	place := createPlace(t, NewPlaceRepository(pool), "Clock Tower", "Izmir", catalog.CategoryHistoric, &geo.Coordinate{Latitude: 38.4189, Longitude: 27.1287})
	c, err := NewCheckInRepository(pool).CreateCheckIn(context.Background(), &model.CheckIn{
		UserID:     userID,
		PlaceID:    place.ID,
		Coordinate: *place.Location,
	})
	require.NoError(t, err)
	return c.ID
}

func TestProgressRepository_UpsertIsConditional(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	c := createChallenge(t, pool, "izmir", 0, 1)
	reqID := c.Requirements[0].ID
	first, second, third := createCheckIn(t, pool, 5), createCheckIn(t, pool, 5), createCheckIn(t, pool, 5)

	_, err := repo.GetProgress(ctx, 5, reqID)
	assert.ErrorIs(t, err, ErrProgressNotFound)

	saved, err := repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 5, RequirementID: reqID, ChallengeID: c.ID, Count: 1,
	}, 0, first)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Count)

	// stale expected count
	_, err = repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 5, RequirementID: reqID, ChallengeID: c.ID, Count: 1,
	}, 0, second)
	assert.ErrorIs(t, err, ErrProgressConflict)

	now := time.Now()
	saved, err = repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 5, RequirementID: reqID, ChallengeID: c.ID, Count: 2, Completed: true, CompletedAt: &now,
	}, 1, second)
	require.NoError(t, err, "a conflicting write must not leave its check-in marked")
	assert.True(t, saved.Completed)

	// completed rows are frozen
	_, err = repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 5, RequirementID: reqID, ChallengeID: c.ID, Count: 0,
	}, 2, third)
	assert.ErrorIs(t, err, ErrProgressConflict)

	got, err := repo.GetProgress(ctx, 5, reqID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.True(t, got.Completed)

	all, err := repo.GetRequirementProgress(ctx, 5, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProgressRepository_CheckInCountsOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProgressRepository(pool)
	ctx := context.Background()

	c := createChallenge(t, pool, "izmir", 0, 1, 2)
	checkInID := createCheckIn(t, pool, 6)

	_, err := repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 6, RequirementID: c.Requirements[0].ID, ChallengeID: c.ID, Count: 1,
	}, 0, checkInID)
	require.NoError(t, err)

	_, err = repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 6, RequirementID: c.Requirements[0].ID, ChallengeID: c.ID, Count: 2,
	}, 1, checkInID)
	assert.ErrorIs(t, err, ErrCheckInAlreadyCounted)

	// the same check-in may still count toward a different requirement
	_, err = repo.UpsertRequirementProgress(ctx, &model.RequirementProgress{
		UserID: 6, RequirementID: c.Requirements[1].ID, ChallengeID: c.ID, Count: 1,
	}, 0, checkInID)
	require.NoError(t, err)

	got, err := repo.GetProgress(ctx, 6, c.Requirements[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestChallengeRepository_CreateCityChallenges(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()
	target := int64(7)
	set := func(titles ...string) []*model.Challenge {
		var out []*model.Challenge
		for _, title := range titles {
			out = append(out, &model.Challenge{
				City: "Bursa", Title: title, Kind: model.ChallengeKindExplorer,
				Requirements: []model.Requirement{{Kind: model.RequirementVisitPlace, TargetID: &target, TargetCount: 1}},
			})
		}
		return out
	}

	// one invalid challenge keeps the whole set out
	broken := set("a", "b")
	broken[1].Requirements[0].TargetID = nil
	_, err := repo.CreateCityChallenges(ctx, "Bursa", broken)
	assert.ErrorIs(t, err, model.ErrInvalidRequirement)
	n, err := repo.CountChallengesByCity(ctx, "bursa")
	require.NoError(t, err)
	assert.Zero(t, n)

	created, err := repo.CreateCityChallenges(ctx, "Bursa", set("a", "b"))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Len(t, created[1].Requirements, 1)

	_, err = repo.CreateCityChallenges(ctx, "BURSA", set("c"))
	assert.ErrorIs(t, err, ErrChallengesExist)
	n, err = repo.CountChallengesByCity(ctx, "bursa")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProgressRepository_MarkChallengeCompletedOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	txs := NewTransactionRepository(pool)
	repo := NewProgressRepository(pool)
	ctx := context.Background()

	_, err := users.CreateUser(ctx, 8, "finisher")
	require.NoError(t, err)
	c := createChallenge(t, pool, "izmir", 120, 1)

	inserted, err := repo.MarkChallengeCompleted(ctx, &model.ChallengeCompletion{UserID: 8, ChallengeID: c.ID, BonusPoints: 120})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.MarkChallengeCompleted(ctx, &model.ChallengeCompletion{UserID: 8, ChallengeID: c.ID, BonusPoints: 120})
	require.NoError(t, err)
	assert.False(t, inserted)

	user, err := users.GetUser(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(120), user.Points)

	ledger, err := txs.ListTransactions(ctx, 8, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, model.TxTypeChallengeBonus, ledger[0].Type)

	today := time.Now().Add(-time.Hour)
	ranks, err := txs.TopEarners(ctx, today, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, ranks, 1)
	assert.Equal(t, int64(120), ranks[0].Earned)
	assert.Equal(t, "finisher", ranks[0].Username)

	completion, err := repo.GetChallengeCompletion(ctx, 8, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), completion.BonusPoints)

	// unknown user rolls the marker back so a later call can retry
	_, err = repo.MarkChallengeCompleted(ctx, &model.ChallengeCompletion{UserID: 404, ChallengeID: c.ID, BonusPoints: 120})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = repo.GetChallengeCompletion(ctx, 404, c.ID)
	assert.ErrorIs(t, err, ErrCompletionNotFound)
}
