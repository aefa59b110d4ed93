package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a logger tagged with app from the global logger
// configured by internal/logging.
func ComponentLogger(app string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Logger()
}
