package rtrfeed

import "github.com/rs/zerolog"

// rtrLogAdapter adapts zerolog.Logger to stayrtr's printf-style logger
// interface, mirroring bgpfix-bgpipe/stages/rpki/logger.go.
type rtrLogAdapter struct {
	zerolog.Logger
}

func (l rtrLogAdapter) Printf(format string, args ...any) { l.Debug().Msgf(format, args...) }
func (l rtrLogAdapter) Debugf(format string, args ...any) { l.Debug().Msgf(format, args...) }
func (l rtrLogAdapter) Infof(format string, args ...any)  { l.Info().Msgf(format, args...) }
func (l rtrLogAdapter) Warnf(format string, args ...any)  { l.Warn().Msgf(format, args...) }
func (l rtrLogAdapter) Errorf(format string, args ...any) { l.Error().Msgf(format, args...) }
