package handler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/service"
)

// nearbyRadiusMeters is the search radius for /nearby.
const nearbyRadiusMeters = 1500

// TravelHandler handles locations, check-ins, places and challenges.
type TravelHandler struct {
	checkIns  *service.CheckInService
	reconcile *service.ReconcileService
	discovery *service.DiscoveryService
	accounts  *service.AccountService
	locations *LocationCache
}

// NewTravelHandler creates a new TravelHandler.
func NewTravelHandler(
	checkIns *service.CheckInService,
	reconcile *service.ReconcileService,
	discovery *service.DiscoveryService,
	accounts *service.AccountService,
	locations *LocationCache,
) *TravelHandler {
	return &TravelHandler{
		checkIns:  checkIns,
		reconcile: reconcile,
		discovery: discovery,
		accounts:  accounts,
		locations: locations,
	}
}

// HandleLocation stores a shared location for later check-ins.
func (h *TravelHandler) HandleLocation(c tele.Context) error {
	sender := c.Sender()
	msg := c.Message()
	if sender == nil || msg == nil || msg.Location == nil {
		return nil
	}

	coord := geo.Coordinate{Latitude: float64(msg.Location.Lat), Longitude: float64(msg.Location.Lng)}
	if !coord.Valid() {
		return c.Reply(errorReply(service.ErrLocationUnavailable))
	}
	h.locations.Set(sender.ID, coord)
	return c.Reply("📍 Got it. Now /checkin <place id> or look around with /nearby")
}

// HandleCheckIn handles /checkin <placeID> [challengeID].
func (h *TravelHandler) HandleCheckIn(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	placeID, valid := parseIDArg(args, 0)
	if !valid {
		return c.Reply("Usage: /checkin <place id> [challenge id]")
	}

	ctx, cancel := requestContext()
	defer cancel()

	if _, _, err := h.accounts.EnsureUser(ctx, sender.ID, displayName(sender)); err != nil {
		return c.Reply(errorReply(err))
	}

	var extra string
	if challengeID, hasChallenge := parseIDArg(args, 1); hasChallenge {
		coord, ok := h.locations.Get(sender.ID)
		if !ok {
			return c.Reply(errorReply(service.ErrLocationUnavailable))
		}
		req := service.CheckInRequest{UserID: sender.ID, PlaceID: placeID, Coordinate: &coord}
		out, err := h.checkIns.CheckInForChallenge(ctx, req, challengeID)
		if err != nil {
			return c.Reply(errorReply(err))
		}
		extra = formatReconciliation(out.Reconciliation)
	} else {
		provider := h.locations.Provider(sender.ID)
		if _, err := h.checkIns.CheckInAtCurrentLocation(ctx, sender.ID, placeID, provider, nil); err != nil {
			return c.Reply(errorReply(err))
		}
	}

	place, err := h.discovery.GetPlace(ctx, placeID)
	if err != nil {
		log.Warn().Err(err).Int64("place_id", placeID).Msg("Failed to reload place after check-in")
		return c.Reply("✅ Checked in!" + extra)
	}
	return c.Reply(fmt.Sprintf("✅ Checked in at %s! +%d points%s", place.Name, place.PointValue, extra))
}

// HandlePlaces handles /places <city>.
func (h *TravelHandler) HandlePlaces(c tele.Context) error {
	city := strings.TrimSpace(c.Message().Payload)
	if catalog.CityKey(city) == "" {
		return c.Reply("Usage: /places <city>")
	}
	ctx, cancel := requestContext()
	defer cancel()

	places, err := h.discovery.ListPlaces(ctx, city)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatPlaces(city, places))
}

// HandleNearby lists places around the user's shared location.
func (h *TravelHandler) HandleNearby(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	coord, ok := h.locations.Get(sender.ID)
	if !ok {
		return c.Reply(errorReply(service.ErrLocationUnavailable))
	}

	ctx, cancel := requestContext()
	defer cancel()

	nearby, err := h.discovery.NearbyPlaces(ctx, coord, nearbyRadiusMeters, 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(nearby) == 0 {
		return c.Reply(fmt.Sprintf("🧭 Nothing within %s of you.", formatDistance(nearbyRadiusMeters)))
	}

	var b strings.Builder
	b.WriteString("🧭 Near you\n━━━━━━━━━━━━━━━\n")
	for _, n := range nearby {
		fmt.Fprintf(&b, "#%d %s · %s\n", n.Place.ID, n.Place.Name, formatDistance(n.DistanceMeters))
	}
	return c.Reply(b.String())
}

// HandleChallenges handles /challenges <city>. A city without challenges
// gets a generated set.
func (h *TravelHandler) HandleChallenges(c tele.Context) error {
	city := strings.TrimSpace(c.Message().Payload)
	if catalog.CityKey(city) == "" {
		return c.Reply("Usage: /challenges <city>")
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, generated, err := h.discovery.ChallengesForCity(ctx, city)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatChallenges(city, list, generated))
}

// HandleProgress handles /progress <challengeID>.
func (h *TravelHandler) HandleProgress(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	challengeID, valid := parseIDArg(c.Args(), 0)
	if !valid {
		return c.Reply("Usage: /progress <challenge id>")
	}
	ctx, cancel := requestContext()
	defer cancel()

	view, err := h.reconcile.ChallengeProgress(ctx, sender.ID, challengeID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatProgress(view))
}
