package handler

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"travel-points/internal/service"
)

// RankingHandler handles ranking-related commands.
type RankingHandler struct {
	rankingService *service.RankingService
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(rankingService *service.RankingService) *RankingHandler {
	return &RankingHandler{rankingService: rankingService}
}

// HandleTop handles the /top command.
// Displays the top 10 travellers by points.
func (h *RankingHandler) HandleTop(c tele.Context) error {
	ctx, cancel := requestContext()
	defer cancel()

	users, err := h.rankingService.TopUsers(ctx, 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(users) == 0 {
		return c.Reply("📊 No travellers yet")
	}

	var b strings.Builder
	b.WriteString("🏆 Top travellers\n━━━━━━━━━━━━━━━\n")
	for i, u := range users {
		name := u.Username
		if name == "" {
			name = fmt.Sprintf("User%d", u.ID)
		}
		fmt.Fprintf(&b, "%s %s: %d\n", rankPrefix(i), name, u.Points)
	}
	b.WriteString("━━━━━━━━━━━━━━━")
	return c.Reply(b.String())
}

// HandleToday handles the /today command.
// Displays who earned the most points today.
func (h *RankingHandler) HandleToday(c tele.Context) error {
	ctx, cancel := requestContext()
	defer cancel()

	ranks, err := h.rankingService.TopEarnersToday(ctx, 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(ranks) == 0 {
		return c.Reply("📊 Nobody has earned points today yet")
	}

	var b strings.Builder
	b.WriteString("📅 Today's explorers\n━━━━━━━━━━━━━━━\n")
	for i, r := range ranks {
		name := r.Username
		if name == "" {
			name = fmt.Sprintf("User%d", r.UserID)
		}
		fmt.Fprintf(&b, "%s %s: +%d\n", rankPrefix(i), name, r.Earned)
	}
	b.WriteString("━━━━━━━━━━━━━━━")
	return c.Reply(b.String())
}
