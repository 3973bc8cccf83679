package bot

import (
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"travel-points/internal/config"
	"travel-points/internal/geo"
	"travel-points/internal/handler"
)

// commandName returns the leading /command of a message, without any
// @botname suffix, or "" for plain text.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd
}

// AdminMiddleware creates a middleware that checks if the user is an admin.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", commandName(c.Text())).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Admins only")
			}

			return next(c)
		}
	}
}

// LocationMiddleware records every valid coordinate a user sends into the
// location cache before the update is handled. This covers venue shares
// and live location updates, which arrive as edited messages, as well as
// plain location pins.
func LocationMiddleware(locations *handler.LocationCache) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			msg := c.Message()
			if sender != nil && msg != nil && msg.Location != nil {
				coord := geo.Coordinate{Latitude: float64(msg.Location.Lat), Longitude: float64(msg.Location.Lng)}
				if coord.Valid() {
					locations.Set(sender.ID, coord)
				}
			}
			return next(c)
		}
	}
}

// LoggingMiddleware creates a middleware that logs all incoming messages.
// Only the command name is logged; arguments, notes and shared
// coordinates are not.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			if msg := c.Message(); msg != nil && msg.Location != nil {
				logEvent = logEvent.
					Bool("location", true).
					Bool("live", msg.Location.LivePeriod > 0)
			}
			logEvent.
				Str("command", commandName(c.Text())).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("command", commandName(c.Text())).
						Msg("Recovered from panic in handler")
					err = c.Reply("❌ Something went wrong, please try again later.")
				}
			}()
			return next(c)
		}
	}
}
