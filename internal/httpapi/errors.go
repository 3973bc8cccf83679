package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"travel-points/internal/pkg/lock"
	"travel-points/internal/service"
)

// Machine-readable error codes. Clients own the copy.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnauthorized         = "unauthorized"
	CodeForbidden            = "forbidden"
	CodeRateLimited          = "rate_limited"
	CodePlaceNotFound        = "place_not_found"
	CodePlaceLocationMissing = "place_location_missing"
	CodeLocationUnavailable  = "location_unavailable"
	CodeTooFarAway           = "too_far_away"
	CodeChallengeNotFound    = "challenge_not_found"
	CodeChallengesExist      = "challenges_exist"
	CodeCheckInNotFound      = "check_in_not_found"
	CodeUserNotFound         = "user_not_found"
	CodePersistence          = "persistence_failure"
	CodeBusy                 = "busy"
	CodeInternal             = "internal"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code           string   `json:"code"`
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	RadiusMeters   *float64 `json:"radiusMeters,omitempty"`
}

func abortWithCode(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorBody{Code: code}})
}

// writeError maps a service error onto a status and code.
func writeError(c *gin.Context, err error) {
	var tooFar *service.TooFarAwayError
	switch {
	case errors.As(err, &tooFar):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ErrorBody{
			Code:           CodeTooFarAway,
			DistanceMeters: &tooFar.DistanceMeters,
			RadiusMeters:   &tooFar.RadiusMeters,
		}})
	case errors.Is(err, service.ErrPlaceNotFound):
		abortWithCode(c, http.StatusNotFound, CodePlaceNotFound)
	case errors.Is(err, service.ErrPlaceLocationMissing):
		abortWithCode(c, http.StatusUnprocessableEntity, CodePlaceLocationMissing)
	case errors.Is(err, service.ErrLocationUnavailable):
		abortWithCode(c, http.StatusBadRequest, CodeLocationUnavailable)
	case errors.Is(err, service.ErrInvalidRequest):
		abortWithCode(c, http.StatusBadRequest, CodeInvalidRequest)
	case errors.Is(err, service.ErrChallengeNotFound):
		abortWithCode(c, http.StatusNotFound, CodeChallengeNotFound)
	case errors.Is(err, service.ErrCheckInNotFound):
		abortWithCode(c, http.StatusNotFound, CodeCheckInNotFound)
	case errors.Is(err, service.ErrChallengesExist):
		abortWithCode(c, http.StatusConflict, CodeChallengesExist)
	case errors.Is(err, service.ErrUserNotFound):
		abortWithCode(c, http.StatusNotFound, CodeUserNotFound)
	case errors.Is(err, service.ErrPersistence):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Persistence failure")
		abortWithCode(c, http.StatusServiceUnavailable, CodePersistence)
	case errors.Is(err, lock.ErrLockTimeout):
		abortWithCode(c, http.StatusServiceUnavailable, CodeBusy)
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		abortWithCode(c, http.StatusInternalServerError, CodeInternal)
	}
}
