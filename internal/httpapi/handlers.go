package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/service"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}

// queryCoordinate reads latitude and longitude. It returns nil when either
// is missing or unparsable, which the services treat as no location.
func queryCoordinate(c *gin.Context) *geo.Coordinate {
	lat, err1 := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, err2 := strconv.ParseFloat(c.Query("longitude"), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &geo.Coordinate{Latitude: lat, Longitude: lon}
}

type checkInBody struct {
	PlaceID     int64    `json:"placeId" binding:"required"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Note        *string  `json:"note"`
	ChallengeID *int64   `json:"challengeId"`
}

func (s *Server) createCheckIn(c *gin.Context) {
	var body checkInBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	req := service.CheckInRequest{
		UserID:  userID(c),
		PlaceID: body.PlaceID,
		Note:    body.Note,
	}
	if body.Latitude != nil && body.Longitude != nil {
		req.Coordinate = &geo.Coordinate{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}

	ctx := c.Request.Context()
	if body.ChallengeID != nil {
		out, err := s.svc.CheckIns.CheckInForChallenge(ctx, req, *body.ChallengeID)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusCreated, out)
		return
	}

	checkIn, err := s.svc.CheckIns.CheckIn(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, service.ChallengeCheckIn{CheckIn: checkIn})
}

type reconcileBody struct {
	CheckInID int64 `json:"checkInId" binding:"required,gt=0"`
}

func (s *Server) reconcileRequirement(c *gin.Context) {
	challengeID, good := pathID(c, "id")
	if !good {
		return
	}
	requirementID, good := pathID(c, "requirementId")
	if !good {
		return
	}
	var body reconcileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	res, err := s.svc.Reconcile.ReconcileRequirement(c.Request.Context(), userID(c), body.CheckInID, requirementID, &challengeID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

func (s *Server) challengeProgress(c *gin.Context) {
	id, good := pathID(c, "id")
	if !good {
		return
	}
	view, err := s.svc.Reconcile.ChallengeProgress(c.Request.Context(), userID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

func (s *Server) getChallenge(c *gin.Context) {
	id, good := pathID(c, "id")
	if !good {
		return
	}
	ch, err := s.svc.Discovery.GetChallenge(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

func (s *Server) cityChallenges(c *gin.Context) {
	list, generated, err := s.svc.Discovery.ChallengesForCity(c.Request.Context(), c.Param("city"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"challenges": list, "generated": generated})
}

func (s *Server) generateChallenges(c *gin.Context) {
	list, err := s.svc.Discovery.GenerateChallenges(c.Request.Context(), c.Param("city"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, list)
}

func (s *Server) getPlace(c *gin.Context) {
	id, good := pathID(c, "id")
	if !good {
		return
	}
	place, err := s.svc.Discovery.GetPlace(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, place)
}

func (s *Server) placeProximity(c *gin.Context) {
	id, good := pathID(c, "id")
	if !good {
		return
	}
	p, err := s.svc.CheckIns.Proximity(c.Request.Context(), id, queryCoordinate(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) listPlaces(c *gin.Context) {
	places, err := s.svc.Discovery.ListPlaces(c.Request.Context(), c.Query("city"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, places)
}

func (s *Server) nearbyPlaces(c *gin.Context) {
	center := queryCoordinate(c)
	if center == nil {
		abortWithCode(c, http.StatusBadRequest, CodeLocationUnavailable)
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "1000"), 64)
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	places, err := s.svc.Discovery.NearbyPlaces(c.Request.Context(), *center, radius, queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, places)
}

type placeBody struct {
	Name       string   `json:"name" binding:"required"`
	Category   string   `json:"category"`
	LegacyType string   `json:"legacyType"`
	City       string   `json:"city" binding:"required"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	PointValue int64    `json:"pointValue"`
}

func (s *Server) createPlace(c *gin.Context) {
	var body placeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	p := &model.Place{
		Name:       body.Name,
		LegacyType: body.LegacyType,
		City:       body.City,
		PointValue: body.PointValue,
	}
	if body.Category != "" {
		cat, known := catalog.Parse(body.Category)
		if !known {
			abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
			return
		}
		p.Category = cat
	}
	if body.Latitude != nil && body.Longitude != nil {
		p.Location = &geo.Coordinate{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}

	created, err := s.svc.Discovery.AddPlace(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, created)
}

func (s *Server) me(c *gin.Context) {
	user, err := s.svc.Accounts.GetUser(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, user)
}

func (s *Server) myTransactions(c *gin.Context) {
	list, err := s.svc.Accounts.History(c.Request.Context(), userID(c), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) myCheckIns(c *gin.Context) {
	list, err := s.svc.CheckIns.History(c.Request.Context(), userID(c), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) leaderboard(c *gin.Context) {
	limit := queryInt(c, "limit")
	switch c.DefaultQuery("period", "all") {
	case "all":
		users, err := s.svc.Ranking.TopUsers(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, users)
	case "today":
		ranks, err := s.svc.Ranking.TopEarnersToday(c.Request.Context(), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, http.StatusOK, ranks)
	default:
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
	}
}
