package changefeed

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/telemetry"
)

func countEvent(source, result string) {
	telemetry.ChangeFeedEventsTotal.With(source, result).Inc()
}

func recordDecodeError(source string, err error) {
	if errors.Is(err, ErrUnsupportedEvent) {
		countEvent(source, "filtered")
		log.Debug().Err(err).Str("source", source).Msg("Ignoring change event")
		return
	}
	countEvent(source, "invalid")
	log.Warn().Err(err).Str("source", source).Msg("Failed to decode change event")
}
