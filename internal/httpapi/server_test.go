package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/repository/memory"
	"travel-points/internal/service"
)

const testSecret = "test-secret"

var kadikoy = geo.Coordinate{Latitude: 40.9923, Longitude: 29.0244}

type apiEnv struct {
	store  *memory.Store
	server *Server
}

func newAPIEnv(t *testing.T, perMinute int) *apiEnv {
	t.Helper()
	store := memory.New()
	reconcile := service.NewReconcileService(store, nil)
	svc := Services{
		CheckIns:  service.NewCheckInService(store, geo.NewValidator(300, false), reconcile, service.DefaultCheckInOptions),
		Reconcile: reconcile,
		Discovery: service.NewDiscoveryService(store, nil, nil, service.DefaultDiscoveryOptions),
		Accounts:  service.NewAccountService(store),
		Ranking:   service.NewRankingService(store, time.UTC),
	}
	server := NewServer(svc, Options{
		Mode:              gin.TestMode,
		JWTSecret:         testSecret,
		CheckInsPerMinute: perMinute,
		IsAdmin:           func(id int64) bool { return id == 1 },
	})
	return &apiEnv{store: store, server: server}
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "", userID, "tester", time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *ErrorBody      `json:"error"`
}

func (e *apiEnv) do(t *testing.T, method, path string, userID int64, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (e *apiEnv) place(t *testing.T, loc *geo.Coordinate, points int64) *model.Place {
	t.Helper()
	p, err := e.store.CreatePlace(context.Background(), &model.Place{
		Name: "Kadikoy Market", Category: catalog.CategoryMarket, City: "Istanbul", Location: loc, PointValue: points,
	})
	require.NoError(t, err)
	return p
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t, 60)
	code, _ := env.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, code)

	env.server.opts.Health = func(context.Context) error { return errors.New("db down") }
	code, _ = env.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestAuth(t *testing.T) {
	env := newAPIEnv(t, 60)

	code, body := env.do(t, http.MethodGet, "/api/me", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, body.Error)
	assert.Equal(t, CodeUnauthorized, body.Error.Code)

	forged, err := IssueToken("other-secret", "", 5, "x", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, "", 5, "x", -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// a valid token provisions the user
	code, body = env.do(t, http.MethodGet, "/api/me", 5, nil)
	require.Equal(t, http.StatusOK, code)
	var user model.User
	require.NoError(t, json.Unmarshal(body.Data, &user))
	assert.Equal(t, int64(5), user.ID)
	assert.Equal(t, "tester", user.Username)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestCreateCheckIn(t *testing.T) {
	env := newAPIEnv(t, 600)
	place := env.place(t, &kadikoy, 50)
	unlocated := env.place(t, nil, 50)

	code, body := env.do(t, http.MethodPost, "/api/checkins", 2, gin.H{
		"placeId": place.ID, "latitude": 40.9925, "longitude": 29.0246, "note": "hello",
	})
	require.Equal(t, http.StatusCreated, code)
	var out service.ChallengeCheckIn
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Equal(t, place.ID, out.CheckIn.PlaceID)

	user, err := env.store.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(50), user.Points)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"too far", gin.H{"placeId": place.ID, "latitude": 41.0, "longitude": 29.0244}, http.StatusForbidden, CodeTooFarAway},
		{"unknown place", gin.H{"placeId": 999, "latitude": 40.9923, "longitude": 29.0244}, http.StatusNotFound, CodePlaceNotFound},
		{"place without location", gin.H{"placeId": unlocated.ID, "latitude": 40.9923, "longitude": 29.0244}, http.StatusUnprocessableEntity, CodePlaceLocationMissing},
		{"no coordinate", gin.H{"placeId": place.ID}, http.StatusBadRequest, CodeLocationUnavailable},
		{"missing place id", gin.H{"latitude": 1.0, "longitude": 1.0}, http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPost, "/api/checkins", 2, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			if tt.code == CodeTooFarAway {
				require.NotNil(t, body.Error.DistanceMeters)
				assert.Greater(t, *body.Error.DistanceMeters, 300.0)
			}
		})
	}
	assert.Equal(t, 1, env.store.CheckInCount())
}

func TestCheckInRateLimit(t *testing.T) {
	env := newAPIEnv(t, 2)
	place := env.place(t, &kadikoy, 0)
	body := gin.H{"placeId": place.ID, "latitude": kadikoy.Latitude, "longitude": kadikoy.Longitude}

	code, _ := env.do(t, http.MethodPost, "/api/checkins", 3, body)
	assert.Equal(t, http.StatusCreated, code)
	code, resp := env.do(t, http.MethodPost, "/api/checkins", 3, body)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)

	// other users have their own bucket
	code, _ = env.do(t, http.MethodPost, "/api/checkins", 4, body)
	assert.Equal(t, http.StatusCreated, code)
}

func TestChallengeFlow(t *testing.T) {
	env := newAPIEnv(t, 600)
	ctx := context.Background()
	place := env.place(t, &kadikoy, 10)
	target := place.ID
	c, err := env.store.CreateChallenge(ctx, &model.Challenge{
		City: "Istanbul", Title: "One stop", Kind: model.ChallengeKindManual, PointValue: 90,
		Requirements: []model.Requirement{{Kind: model.RequirementVisitPlace, TargetID: &target, TargetCount: 2}},
	})
	require.NoError(t, err)

	code, body := env.do(t, http.MethodPost, "/api/checkins", 7, gin.H{
		"placeId": place.ID, "latitude": kadikoy.Latitude, "longitude": kadikoy.Longitude, "challengeId": c.ID,
	})
	require.Equal(t, http.StatusCreated, code)
	var out service.ChallengeCheckIn
	require.NoError(t, json.Unmarshal(body.Data, &out))
	require.Len(t, out.Reconciliation, 1)
	assert.Equal(t, service.StatusProgressed, out.Reconciliation[0].Status)

	path := "/api/challenges/" + itoa(c.ID) + "/requirements/" + itoa(c.Requirements[0].ID) + "/reconcile"

	// the check-in above already counted
	code, body = env.do(t, http.MethodPost, path, 7, gin.H{"checkInId": out.CheckIn.ID})
	require.Equal(t, http.StatusOK, code)
	var res service.ReconcileResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, service.StatusAlreadyCounted, res.Status)
	assert.False(t, res.BonusAwarded)

	// a second visit recorded without a challenge counts once reconciled
	code, body = env.do(t, http.MethodPost, "/api/checkins", 7, gin.H{
		"placeId": place.ID, "latitude": kadikoy.Latitude, "longitude": kadikoy.Longitude,
	})
	require.Equal(t, http.StatusCreated, code)
	var plain service.ChallengeCheckIn
	require.NoError(t, json.Unmarshal(body.Data, &plain))

	code, body = env.do(t, http.MethodPost, path, 7, gin.H{"checkInId": plain.CheckIn.ID})
	require.Equal(t, http.StatusOK, code)
	res = service.ReconcileResult{}
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, service.StatusCompleted, res.Status)
	assert.True(t, res.BonusAwarded)

	code, body = env.do(t, http.MethodGet, "/api/challenges/"+itoa(c.ID)+"/progress", 7, nil)
	require.Equal(t, http.StatusOK, code)
	var view service.ChallengeProgressView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.True(t, view.Completed)
	assert.True(t, view.BonusAwarded)

	code, body = env.do(t, http.MethodGet, "/api/challenges/9999/progress", 7, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, CodeChallengeNotFound, body.Error.Code)

	code, _ = env.do(t, http.MethodGet, "/api/challenges/abc/progress", 7, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.do(t, http.MethodGet, "/api/leaderboard?period=today", 7, nil)
	require.Equal(t, http.StatusOK, code)
	var ranks []model.DailyRank
	require.NoError(t, json.Unmarshal(body.Data, &ranks))
	require.Len(t, ranks, 1)
	assert.Equal(t, int64(10+10+90), ranks[0].Earned)

	code, _ = env.do(t, http.MethodGet, "/api/leaderboard?period=week", 7, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReconcileRoute_RequiresOwnCheckInAtTarget(t *testing.T) {
	env := newAPIEnv(t, 600)
	ctx := context.Background()
	place := env.place(t, &kadikoy, 10)
	elsewhere := env.place(t, &kadikoy, 10)
	target := place.ID
	c, err := env.store.CreateChallenge(ctx, &model.Challenge{
		City: "Istanbul", Title: "One stop", Kind: model.ChallengeKindManual, PointValue: 90,
		Requirements: []model.Requirement{{Kind: model.RequirementVisitPlace, TargetID: &target, TargetCount: 1}},
	})
	require.NoError(t, err)
	reqID := c.Requirements[0].ID
	path := "/api/challenges/" + itoa(c.ID) + "/requirements/" + itoa(reqID) + "/reconcile"

	checkIn := func(userID, placeID int64) int64 {
		code, body := env.do(t, http.MethodPost, "/api/checkins", userID, gin.H{
			"placeId": placeID, "latitude": kadikoy.Latitude, "longitude": kadikoy.Longitude,
		})
		require.Equal(t, http.StatusCreated, code)
		var out service.ChallengeCheckIn
		require.NoError(t, json.Unmarshal(body.Data, &out))
		return out.CheckIn.ID
	}
	othersAtTarget := checkIn(8, place.ID)
	mineElsewhere := checkIn(7, elsewhere.ID)

	code, body := env.do(t, http.MethodPost, path, 7, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidRequest, body.Error.Code)

	code, body = env.do(t, http.MethodPost, path, 7, gin.H{"checkInId": 9999})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, CodeCheckInNotFound, body.Error.Code)

	code, body = env.do(t, http.MethodPost, path, 7, gin.H{"checkInId": othersAtTarget})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, CodeCheckInNotFound, body.Error.Code)

	code, body = env.do(t, http.MethodPost, path, 7, gin.H{"checkInId": mineElsewhere})
	require.Equal(t, http.StatusOK, code)
	var res service.ReconcileResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, service.StatusNotApplicable, res.Status)

	code, body = env.do(t, http.MethodGet, "/api/challenges/"+itoa(c.ID)+"/progress", 7, nil)
	require.Equal(t, http.StatusOK, code)
	var view service.ChallengeProgressView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Zero(t, view.CompletedCount)
	assert.Zero(t, view.Requirements[0].Count)
	assert.False(t, view.BonusAwarded)

	u, err := env.store.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Points, "only the check-in at the other place paid")
}

func TestGenerateChallenges_RefusesWhenCityHasChallenges(t *testing.T) {
	env := newAPIEnv(t, 600)
	for i := 0; i < 3; i++ {
		loc := geo.Coordinate{Latitude: 41.03 + float64(i)*0.001, Longitude: 28.97}
		env.place(t, &loc, 10)
	}

	code, _ := env.do(t, http.MethodPost, "/api/cities/Istanbul/challenges/generate", 1, nil)
	require.Equal(t, http.StatusCreated, code)
	before, err := env.store.CountChallengesByCity(context.Background(), "Istanbul")
	require.NoError(t, err)
	require.NotZero(t, before)

	code, body := env.do(t, http.MethodPost, "/api/cities/istanbul/challenges/generate", 1, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeChallengesExist, body.Error.Code)

	after, err := env.store.CountChallengesByCity(context.Background(), "Istanbul")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPlacesAndCities(t *testing.T) {
	env := newAPIEnv(t, 600)

	code, _ := env.do(t, http.MethodPost, "/api/places", 2, gin.H{"name": "x", "city": "Istanbul"})
	assert.Equal(t, http.StatusForbidden, code)

	for i, name := range []string{"Pera Museum", "Istanbul Modern", "Topkapi"} {
		code, _ := env.do(t, http.MethodPost, "/api/places", 1, gin.H{
			"name": name, "city": "Istanbul", "category": "museum",
			"latitude": 41.03 + float64(i)*0.001, "longitude": 28.97, "pointValue": 25,
		})
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := env.do(t, http.MethodGet, "/api/places?city=istanbul", 2, nil)
	require.Equal(t, http.StatusOK, code)
	var places []model.Place
	require.NoError(t, json.Unmarshal(body.Data, &places))
	assert.Len(t, places, 3)

	code, body = env.do(t, http.MethodGet, "/api/places/nearby?latitude=41.03&longitude=28.97&radius=150", 2, nil)
	require.Equal(t, http.StatusOK, code)
	var nearby []service.NearbyPlace
	require.NoError(t, json.Unmarshal(body.Data, &nearby))
	assert.Len(t, nearby, 2)

	code, body = env.do(t, http.MethodGet, "/api/places/"+itoa(places[0].ID)+"/proximity?latitude=41.03&longitude=28.97", 2, nil)
	require.Equal(t, http.StatusOK, code)
	var prox geo.Proximity
	require.NoError(t, json.Unmarshal(body.Data, &prox))
	assert.Equal(t, 300.0, prox.RadiusMeters)

	code, body = env.do(t, http.MethodGet, "/api/cities/Istanbul/challenges", 2, nil)
	require.Equal(t, http.StatusOK, code)
	var first struct {
		Challenges []model.Challenge `json:"challenges"`
		Generated  bool              `json:"generated"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &first))
	assert.True(t, first.Generated)
	assert.Len(t, first.Challenges, 2)

	code, body = env.do(t, http.MethodGet, "/api/cities/istanbul/challenges", 2, nil)
	require.Equal(t, http.StatusOK, code)
	var second struct {
		Generated bool `json:"generated"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &second))
	assert.False(t, second.Generated)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestParseToken_EmptySecretRejectsEverything(t *testing.T) {
	token, err := IssueToken(testSecret, "", 5, "eve", time.Hour)
	require.NoError(t, err)

	_, _, err = parseToken("", "", token)
	assert.ErrorIs(t, err, errNoSecret)
}
