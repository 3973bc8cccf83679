package handler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"travel-points/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// HandleStart handles the /start command.
// Creates the account on first use.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := requestContext()
	defer cancel()

	user, created, err := h.accountService.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Ensure user failed")
		return c.Reply(errorReply(err))
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome %s!\n\n"+
				"Visit places, check in and collect points.\n\n"+
				"1. Share your location 📍\n"+
				"2. /places <city> to see what's around\n"+
				"3. /checkin <id> when you're there\n\n"+
				"More: /challenges <city>, /nearby, /points, /top",
			user.Username,
		))
	}

	return c.Reply(fmt.Sprintf("👋 Welcome back %s!\n\n💎 Points: %d", user.Username, user.Points))
}

// HandlePoints handles the /points command.
func (h *AccountHandler) HandlePoints(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := requestContext()
	defer cancel()

	user, _, err := h.accountService.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("💎 Points: %d", user.Points))
}

// HandleHistory handles the /history command.
// Lists the latest ledger entries.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := requestContext()
	defer cancel()

	txs, err := h.accountService.History(ctx, sender.ID, 10)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(txs) == 0 {
		return c.Reply("📒 No points yet. Go check in somewhere!")
	}

	var b strings.Builder
	b.WriteString("📒 Recent points\n━━━━━━━━━━━━━━━\n")
	for _, tx := range txs {
		desc := tx.Type
		if tx.Description != nil {
			desc = *tx.Description
		}
		fmt.Fprintf(&b, "%s  +%d  %s\n", tx.CreatedAt.Format("02 Jan 15:04"), tx.Amount, desc)
	}
	return c.Reply(b.String())
}
