package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/repository/memory"
)

var kadikoy = geo.Coordinate{Latitude: 40.9923, Longitude: 29.0244}

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type testEnv struct {
	store     *memory.Store
	checkIns  *CheckInService
	reconcile *ReconcileService
}

func newTestEnv(t testingT, bypass bool) *testEnv {
	t.Helper()
	store := memory.New()
	reconcile := NewReconcileService(store, nil)
	return &testEnv{
		store:     store,
		reconcile: reconcile,
		checkIns: NewCheckInService(store, geo.NewValidator(300, bypass), reconcile, CheckInOptions{
			LocationTimeout: 50 * time.Millisecond,
			EffectTimeout:   time.Second,
		}),
	}
}

func (e *testEnv) user(t testingT, id int64) *model.User {
	t.Helper()
	u, _, err := e.store.GetOrCreateUser(context.Background(), id, "traveller")
	require.NoError(t, err)
	return u
}

func (e *testEnv) place(t testingT, name string, cat catalog.Category, loc *geo.Coordinate, points int64) *model.Place {
	t.Helper()
	p, err := e.store.CreatePlace(context.Background(), &model.Place{
		Name:       name,
		Category:   cat,
		City:       "Istanbul",
		Location:   loc,
		PointValue: points,
	})
	require.NoError(t, err)
	return p
}

func TestCheckIn_AtPlace(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.user(t, 1)
	place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 50)

	note := "  <b>lovely</b> view "
	checkIn, err := env.checkIns.CheckIn(ctx, CheckInRequest{
		UserID:     1,
		PlaceID:    place.ID,
		Coordinate: &kadikoy,
		Note:       &note,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), checkIn.UserID)
	assert.Equal(t, place.ID, checkIn.PlaceID)
	assert.Equal(t, kadikoy, checkIn.Coordinate)
	require.NotNil(t, checkIn.Note)
	assert.Equal(t, "lovely view", *checkIn.Note)

	user, err := env.store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), user.Points)

	txs, err := env.store.ListTransactions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTypeCheckIn, txs[0].Type)
	assert.Equal(t, int64(50), txs[0].Amount)
}

func TestCheckIn_TooFarAway(t *testing.T) {
	env := newTestEnv(t, false)
	env.user(t, 1)
	target := geo.Coordinate{Latitude: 41, Longitude: 29}
	place := env.place(t, "Somewhere", catalog.CategoryMuseum, &target, 50)

	far := geo.Coordinate{Latitude: 41.0044966, Longitude: 29}
	_, err := env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: place.ID, Coordinate: &far})
	require.ErrorIs(t, err, ErrTooFarAway)

	var tooFar *TooFarAwayError
	require.True(t, errors.As(err, &tooFar))
	assert.InEpsilon(t, 500, tooFar.DistanceMeters, 0.05)
	assert.Equal(t, 300.0, tooFar.RadiusMeters)

	assert.Zero(t, env.store.CheckInCount())
	user, err := env.store.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, user.Points)
}

func TestCheckIn_PlaceProblemsRecordNothing(t *testing.T) {
	env := newTestEnv(t, true)
	env.user(t, 1)
	unlocated := env.place(t, "Nowhere", catalog.CategoryOther, nil, 10)

	_, err := env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: 999, Coordinate: &kadikoy})
	assert.ErrorIs(t, err, ErrPlaceNotFound)

	_, err = env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: unlocated.ID, Coordinate: &kadikoy})
	assert.ErrorIs(t, err, ErrPlaceLocationMissing)

	assert.Zero(t, env.store.CheckInCount())
}

func TestCheckIn_MissingCoordinate(t *testing.T) {
	for _, bypass := range []bool{false, true} {
		env := newTestEnv(t, bypass)
		place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 50)

		_, err := env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: place.ID})
		assert.ErrorIs(t, err, ErrLocationUnavailable)

		bad := geo.Coordinate{Latitude: 95, Longitude: 0}
		_, err = env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: place.ID, Coordinate: &bad})
		assert.ErrorIs(t, err, ErrLocationUnavailable)

		assert.Zero(t, env.store.CheckInCount())
	}
}

func TestCheckIn_InvalidRequest(t *testing.T) {
	env := newTestEnv(t, false)
	_, err := env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 0, PlaceID: 1, Coordinate: &kadikoy})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCheckIn_CancelledBeforeWrite(t *testing.T) {
	env := newTestEnv(t, false)
	place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.checkIns.CheckIn(ctx, CheckInRequest{UserID: 1, PlaceID: place.ID, Coordinate: &kadikoy})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.store.CheckInCount())
}

func TestCheckIn_SecondaryFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	// no user row, so the points credit fails
	place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 50)

	checkIn, err := env.checkIns.CheckIn(ctx, CheckInRequest{UserID: 7, PlaceID: place.ID, Coordinate: &kadikoy})
	require.NoError(t, err)
	assert.NotZero(t, checkIn.ID)

	stored, err := env.store.GetPlace(ctx, place.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.VisitCount)
}

// brokenCheckInStore refuses to record check-ins.
type brokenCheckInStore struct {
	*memory.Store
}

func (brokenCheckInStore) CreateCheckIn(context.Context, *model.CheckIn) (*model.CheckIn, error) {
	return nil, errors.New("disk full")
}

func TestCheckIn_RecordFailureAppliesNoEffects(t *testing.T) {
	base := memory.New()
	ctx := context.Background()
	_, _, err := base.GetOrCreateUser(ctx, 1, "traveller")
	require.NoError(t, err)
	place, err := base.CreatePlace(ctx, &model.Place{
		Name: "Moda Park", Category: catalog.CategoryPark, City: "Istanbul", Location: &kadikoy, PointValue: 50,
	})
	require.NoError(t, err)

	store := brokenCheckInStore{Store: base}
	reconcile := NewReconcileService(store, nil)
	svc := NewCheckInService(store, geo.NewValidator(300, false), reconcile, CheckInOptions{
		LocationTimeout: 50 * time.Millisecond,
		EffectTimeout:   time.Second,
	})

	_, err = svc.CheckIn(ctx, CheckInRequest{UserID: 1, PlaceID: place.ID, Coordinate: &kadikoy})
	require.ErrorIs(t, err, ErrPersistence)

	user, err := base.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, user.Points)

	stored, err := base.GetPlace(ctx, place.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.VisitCount)

	txs, err := base.ListTransactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Zero(t, base.CheckInCount())
}

// Spot check from a real pair of street corners in Kadikoy.
func TestCheckIn_EndToEnd(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	env.user(t, 42)
	place := env.place(t, "Kadikoy Market", catalog.CategoryMarket, &kadikoy, 50)

	user := geo.Coordinate{Latitude: 40.9925, Longitude: 29.0246}
	checkIn, err := env.checkIns.CheckIn(ctx, CheckInRequest{UserID: 42, PlaceID: place.ID, Coordinate: &user})
	require.NoError(t, err)
	assert.Equal(t, user, checkIn.Coordinate)

	u, err := env.store.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(50), u.Points)

	p, err := env.store.GetPlace(ctx, place.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.VisitCount)
}

// Flipping the bypass flag is the only way to skip the distance check.
func TestCheckInBypassProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := geo.Coordinate{
			Latitude:  rapid.Float64Range(-60, 60).Draw(t, "lat"),
			Longitude: rapid.Float64Range(-170, 170).Draw(t, "lon"),
		}
		user := geo.Coordinate{
			Latitude:  target.Latitude + rapid.Float64Range(-0.01, 0.01).Draw(t, "dlat"),
			Longitude: target.Longitude + rapid.Float64Range(-0.01, 0.01).Draw(t, "dlon"),
		}
		within := geo.DistanceMeters(user, target) <= 300

		for _, bypass := range []bool{false, true} {
			env := newTestEnv(t, bypass)
			place := env.place(t, "p", catalog.CategoryPark, &target, 10)

			_, err := env.checkIns.CheckIn(context.Background(), CheckInRequest{UserID: 1, PlaceID: place.ID, Coordinate: &user})
			switch {
			case bypass || within:
				if err != nil {
					t.Fatalf("bypass=%v within=%v: unexpected error %v", bypass, within, err)
				}
			default:
				if !errors.Is(err, ErrTooFarAway) {
					t.Fatalf("expected too far away, got %v", err)
				}
			}
		}
	})
}

func TestCheckInAtCurrentLocation(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 0)

	here := geo.ProviderFunc(func(context.Context) (geo.Coordinate, error) { return kadikoy, nil })
	checkIn, err := env.checkIns.CheckInAtCurrentLocation(ctx, 1, place.ID, here, nil)
	require.NoError(t, err)
	assert.Equal(t, kadikoy, checkIn.Coordinate)

	stuck := geo.ProviderFunc(func(ctx context.Context) (geo.Coordinate, error) {
		<-ctx.Done()
		return geo.Coordinate{}, ctx.Err()
	})
	_, err = env.checkIns.CheckInAtCurrentLocation(ctx, 1, place.ID, stuck, nil)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.NotErrorIs(t, err, ErrTooFarAway)

	denied := geo.ProviderFunc(func(context.Context) (geo.Coordinate, error) {
		return geo.Coordinate{}, geo.ErrPermissionDenied
	})
	_, err = env.checkIns.CheckInAtCurrentLocation(ctx, 1, place.ID, denied, nil)
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	assert.Equal(t, 1, env.store.CheckInCount())
}

func TestProximityPreview(t *testing.T) {
	env := newTestEnv(t, false)
	place := env.place(t, "Moda Park", catalog.CategoryPark, &kadikoy, 50)

	far := geo.Coordinate{Latitude: 41.0, Longitude: 29.0244}
	p, err := env.checkIns.Proximity(context.Background(), place.ID, &far)
	require.NoError(t, err)
	assert.False(t, p.Within)
	assert.Greater(t, p.DistanceMeters, 300.0)

	_, err = env.checkIns.Proximity(context.Background(), place.ID, nil)
	assert.ErrorIs(t, err, ErrLocationUnavailable)
	assert.Zero(t, env.store.CheckInCount())
}
