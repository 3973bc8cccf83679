package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/service"
)

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	discovery *service.DiscoveryService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(discovery *service.DiscoveryService) *AdminHandler {
	return &AdminHandler{discovery: discovery}
}

// HandleGenerate handles /generate <city>.
// Builds a fresh challenge set even if the city already has one.
func (h *AdminHandler) HandleGenerate(c tele.Context) error {
	city := strings.TrimSpace(c.Message().Payload)
	if catalog.CityKey(city) == "" {
		return c.Reply("Usage: /generate <city>")
	}
	ctx, cancel := requestContext()
	defer cancel()

	list, err := h.discovery.GenerateChallenges(ctx, city)
	if err != nil {
		return c.Reply(errorReply(err))
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Str("city", city).
		Int("challenges", len(list)).
		Str("operation", "generate").
		Msg("Admin operation executed")

	return c.Reply(formatChallenges(city, list, true))
}

// HandleAddPlace handles
// /addplace <name>; <city>; <category or type>; <lat>; <lon>; <points>
func (h *AdminHandler) HandleAddPlace(c tele.Context) error {
	p, err := parsePlace(c.Message().Payload)
	if err != nil {
		return c.Reply("Usage: /addplace <name>; <city>; <category>; <lat>; <lon>; <points>\n" + err.Error())
	}
	ctx, cancel := requestContext()
	defer cancel()

	created, err := h.discovery.AddPlace(ctx, p)
	if err != nil {
		return c.Reply(errorReply(err))
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int64("place_id", created.ID).
		Str("operation", "add_place").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf("✅ Added #%d %s (%s) in %s", created.ID, created.Name, created.Category, created.City))
}

// parsePlace reads the semicolon separated /addplace payload. An unknown
// category word is kept as the legacy type and resolved by keyword.
func parsePlace(payload string) (*model.Place, error) {
	parts := strings.Split(payload, ";")
	if len(parts) != 6 {
		return nil, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	lat, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q", parts[3])
	}
	lon, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q", parts[4])
	}
	points, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil || points < 0 {
		return nil, fmt.Errorf("bad points %q", parts[5])
	}

	p := &model.Place{
		Name:       parts[0],
		City:       parts[1],
		Location:   &geo.Coordinate{Latitude: lat, Longitude: lon},
		PointValue: points,
	}
	if cat, ok := catalog.Parse(parts[2]); ok {
		p.Category = cat
	} else {
		p.LegacyType = parts[2]
	}
	return p, nil
}
