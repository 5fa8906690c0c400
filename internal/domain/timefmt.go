package domain

import (
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimeLayout is the upstream timestamp layout. Go accepts an optional
// fractional-seconds suffix of any precision when parsing with it.
const TimeLayout = "2006/01/02 15:04:05"

// JST is the zone every upstream timestamp is expressed in.
var JST = time.FixedZone("JST", 9*60*60)

// clock supplies ParseTime's fallback.
var clock clockwork.Clock = clockwork.NewRealClock()

// SetClock replaces the fallback clock; nil restores real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// ParseTime parses an upstream timestamp such as "2024/01/01 16:10:09.123".
// Any other format is logged and replaced by the current time.
func ParseTime(s string, logger *slog.Logger) time.Time {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), JST)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("unparseable p2p timestamp, using now", "value", s, "error", err)
		return clock.Now().In(JST)
	}
	return t
}
