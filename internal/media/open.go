package media

import (
	"errors"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

// Open returns the platform session, or a no-op session when it is
// disabled or unavailable.
func Open(enabled bool, name string) Session {
	logger := log.WithComponent("media")
	if !enabled {
		return NewNoOpSession()
	}

	s, err := NewSession(name)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			logger.Info().Msg("no media session on this platform")
		} else {
			logger.Warn().Err(err).Msg("media session unavailable")
		}
		return NewNoOpSession()
	}
	return s
}
