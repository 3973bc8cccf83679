// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"travel-points/internal/config"
	"travel-points/internal/handler"
	"travel-points/internal/service"
)

// pruneInterval is how often stale shared locations are dropped.
const pruneInterval = 5 * time.Minute

const helpText = `🧭 TravelPoints

📍 Share your location, then:
/checkin <place> [challenge] - check in nearby
/nearby - places around you
/places <city> - places in a city
/challenges <city> - challenges in a city
/progress <challenge> - your progress

🏆 /points /history /top /today`

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot       *tele.Bot
	cfg       *config.Config
	locations *handler.LocationCache

	// Handlers
	accountHandler *handler.AccountHandler
	rankingHandler *handler.RankingHandler
	travelHandler  *handler.TravelHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config           *config.Config
	AccountService   *service.AccountService
	RankingService   *service.RankingService
	CheckInService   *service.CheckInService
	ReconcileService *service.ReconcileService
	DiscoveryService *service.DiscoveryService
	Locations        *handler.LocationCache
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	locations := deps.Locations
	if locations == nil {
		locations = handler.NewLocationCache(deps.Config.Bot.LocationMaxAge)
	}

	b := &Bot{
		bot:       teleBot,
		cfg:       deps.Config,
		locations: locations,
	}

	b.accountHandler = handler.NewAccountHandler(deps.AccountService)
	b.rankingHandler = handler.NewRankingHandler(deps.RankingService)
	b.travelHandler = handler.NewTravelHandler(
		deps.CheckInService,
		deps.ReconcileService,
		deps.DiscoveryService,
		deps.AccountService,
		locations,
	)
	b.adminHandler = handler.NewAdminHandler(deps.DiscoveryService)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(LocationMiddleware(b.locations))
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	// Account handlers
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/help", func(c tele.Context) error { return c.Reply(helpText) })
	b.bot.Handle("/points", b.accountHandler.HandlePoints)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)

	// Ranking handlers
	b.bot.Handle("/top", b.rankingHandler.HandleTop)
	b.bot.Handle("/today", b.rankingHandler.HandleToday)

	// Travel handlers
	b.bot.Handle(tele.OnLocation, b.travelHandler.HandleLocation)
	b.bot.Handle(tele.OnVenue, b.travelHandler.HandleLocation)
	// live location updates; LocationMiddleware has already cached them
	b.bot.Handle(tele.OnEdited, func(tele.Context) error { return nil })
	b.bot.Handle("/checkin", b.travelHandler.HandleCheckIn)
	b.bot.Handle("/nearby", b.travelHandler.HandleNearby)
	b.bot.Handle("/places", b.travelHandler.HandlePlaces)
	b.bot.Handle("/challenges", b.travelHandler.HandleChallenges)
	b.bot.Handle("/progress", b.travelHandler.HandleProgress)

	// Admin handlers (with admin middleware)
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/generate", b.adminHandler.HandleGenerate)
	adminGroup.Handle("/addplace", b.adminHandler.HandleAddPlace)
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	log.Info().Msg("Starting bot...")

	go b.pruneLocations(ctx)
	go b.bot.Start()

	<-ctx.Done()
	b.Stop()
	return nil
}

func (b *Bot) pruneLocations(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.locations.Prune(); n > 0 {
				log.Debug().Int("pruned", n).Msg("Dropped stale shared locations")
			}
		}
	}
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
