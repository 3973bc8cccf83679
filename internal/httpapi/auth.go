package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"travel-points/internal/service"
)

const (
	ctxUserIDKey   = "user_id"
	ctxUsernameKey = "username"
)

// Claims is the bearer token payload. The subject is the numeric user ID.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID.
func IssueToken(secret, issuer string, userID int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// errNoSecret rejects every token when no signing secret is configured.
var errNoSecret = errors.New("jwt secret not configured")

// parseToken verifies tokenString and returns the user ID it names.
func parseToken(secret, issuer, tokenString string) (int64, *Claims, error) {
	if secret == "" {
		return 0, nil, errNoSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return 0, nil, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, nil, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return id, claims, nil
}

// Auth verifies the bearer token and makes sure the user exists.
func Auth(secret, issuer string, accounts *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			abortWithCode(c, http.StatusUnauthorized, CodeUnauthorized)
			return
		}

		userID, claims, err := parseToken(secret, issuer, strings.TrimSpace(parts[1]))
		if err != nil {
			if !errors.Is(err, jwt.ErrTokenExpired) {
				log.Debug().Err(err).Msg("Rejected bearer token")
			}
			abortWithCode(c, http.StatusUnauthorized, CodeUnauthorized)
			return
		}

		if _, _, err := accounts.EnsureUser(c.Request.Context(), userID, claims.Username); err != nil {
			writeError(c, err)
			return
		}

		c.Set(ctxUserIDKey, userID)
		c.Set(ctxUsernameKey, claims.Username)
		c.Next()
	}
}

// userID returns the authenticated user. Auth must have run.
func userID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserIDKey)
}

// AdminOnly rejects users not accepted by isAdmin.
func AdminOnly(isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(userID(c)) {
			abortWithCode(c, http.StatusForbidden, CodeForbidden)
			return
		}
		c.Next()
	}
}
