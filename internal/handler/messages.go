// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"travel-points/internal/catalog"
	"travel-points/internal/model"
	"travel-points/internal/pkg/lock"
	"travel-points/internal/service"
)

// handlerTimeout bounds the store work behind a single command.
const handlerTimeout = 20 * time.Second

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// displayName picks the best available name for a sender.
func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// errorReply turns a service error into chat copy.
func errorReply(err error) string {
	var tooFar *service.TooFarAwayError
	switch {
	case errors.As(err, &tooFar):
		return fmt.Sprintf("📏 You are %s away. Get within %s to check in.",
			formatDistance(tooFar.DistanceMeters), formatDistance(tooFar.RadiusMeters))
	case errors.Is(err, service.ErrPlaceNotFound):
		return "❌ No such place."
	case errors.Is(err, service.ErrPlaceLocationMissing):
		return "❌ This place has no map location yet, so check-ins are not possible."
	case errors.Is(err, service.ErrLocationUnavailable):
		return "📍 I don't have a recent location for you. Share your location and try again."
	case errors.Is(err, service.ErrChallengeNotFound):
		return "❌ No such challenge."
	case errors.Is(err, service.ErrChallengesExist):
		return "ℹ️ This city already has challenges. Use /challenges to see them."
	case errors.Is(err, service.ErrCheckInNotFound):
		return "❌ No such check-in."
	case errors.Is(err, service.ErrInvalidRequest):
		return "❌ That doesn't look right. Check the command and try again."
	case errors.Is(err, lock.ErrLockTimeout):
		return "⏳ Busy right now, try again in a moment."
	default:
		return "❌ Something went wrong, please try again later."
	}
}

// formatDistance renders metres as "850 m" or "2.4 km".
func formatDistance(m float64) string {
	if m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f km", m/1000)
}

// parseIDArg parses the i-th command argument as a positive ID.
func parseIDArg(args []string, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[i], "#"), 10, 64)
	return id, err == nil && id > 0
}

// formatPlaces lists places with their IDs so they can be checked into.
func formatPlaces(city string, places []*model.Place) string {
	if len(places) == 0 {
		return fmt.Sprintf("🗺 No places known in %s yet.", catalog.DisplayCity(city))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🗺 Places in %s\n", catalog.DisplayCity(city))
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, p := range places {
		marker := "📍"
		if !p.HasLocation() {
			marker = "❔"
		}
		fmt.Fprintf(&b, "%s #%d %s (%s) +%d\n", marker, p.ID, p.Name, p.EffectiveCategory(), p.PointValue)
	}
	b.WriteString("━━━━━━━━━━━━━━━\n")
	b.WriteString("Check in with /checkin <id>")
	return b.String()
}

// formatChallenges lists challenges with their bonus.
func formatChallenges(city string, list []*model.Challenge, generated bool) string {
	if len(list) == 0 {
		return fmt.Sprintf("🎯 Not enough places in %s to build challenges yet.", catalog.DisplayCity(city))
	}

	var b strings.Builder
	if generated {
		fmt.Fprintf(&b, "✨ New challenges for %s!\n", catalog.DisplayCity(city))
	} else {
		fmt.Fprintf(&b, "🎯 Challenges in %s\n", catalog.DisplayCity(city))
	}
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, c := range list {
		fmt.Fprintf(&b, "#%d %s [%s] +%d\n   %s\n", c.ID, c.Title, c.Difficulty, c.PointValue, c.Description)
	}
	b.WriteString("━━━━━━━━━━━━━━━\n")
	b.WriteString("Track one with /progress <id>")
	return b.String()
}

// formatProgress renders a user's standing in a challenge.
func formatProgress(v *service.ChallengeProgressView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 %s\n", v.Challenge.Title)
	b.WriteString("━━━━━━━━━━━━━━━\n")
	for _, st := range v.Requirements {
		mark := "⬜"
		if st.Completed {
			mark = "✅"
		}
		desc := st.Requirement.Description
		if desc == "" {
			desc = st.Requirement.Kind
		}
		fmt.Fprintf(&b, "%s %s (%d/%d)\n", mark, desc, st.Count, st.Requirement.TargetCount)
	}
	b.WriteString("━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "%d/%d done", v.CompletedCount, v.Total)
	if v.BonusAwarded {
		fmt.Fprintf(&b, " · bonus +%d collected 🏆", v.Challenge.PointValue)
	}
	return b.String()
}

// formatReconciliation summarises what a check-in did for a challenge.
func formatReconciliation(results []*service.ReconcileResult) string {
	var b strings.Builder
	for _, r := range results {
		switch r.Status {
		case service.StatusProgressed:
			fmt.Fprintf(&b, "\n📈 Challenge progress: %d so far", r.Progress.Count)
		case service.StatusCompleted:
			b.WriteString("\n✅ Requirement complete")
		case service.StatusAlreadyCompleted, service.StatusAlreadyCounted:
			b.WriteString("\n☑️ Already counted for this challenge")
		}
		if r.BonusAwarded {
			fmt.Fprintf(&b, "\n🏆 Challenge complete! Bonus +%d", r.BonusPoints)
		}
	}
	return b.String()
}

var medals = []string{"🥇", "🥈", "🥉"}

func rankPrefix(i int) string {
	if i < len(medals) {
		return medals[i]
	}
	return fmt.Sprintf("%d.", i+1)
}
