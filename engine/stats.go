package engine

import (
	"time"

	"github.com/loov/hrtime"
	"golang.org/x/exp/slog"
)

const statsInterval = 5 * time.Second

// stats tracks frame timing and reports it at debug level every
// statsInterval.
type stats struct {
	log *slog.Logger

	frames       uint64
	started      time.Duration
	last         time.Duration
	reportFrames uint64
	reportStart  time.Duration
	slowest      time.Duration
}

func newStats(log *slog.Logger) *stats {
	now := hrtime.Now()
	return &stats{log: log, started: now, last: now, reportStart: now}
}

func (s *stats) frame() {
	now := hrtime.Now()
	if dt := now - s.last; dt > s.slowest {
		s.slowest = dt
	}
	s.last = now
	s.frames++

	if elapsed := now - s.reportStart; elapsed >= statsInterval {
		n := s.frames - s.reportFrames
		s.log.Debug("frame stats",
			"frames", n,
			"avg", elapsed/time.Duration(n),
			"slowest", s.slowest,
			"fps", float64(n)/elapsed.Seconds(),
		)
		s.reportFrames = s.frames
		s.reportStart = now
		s.slowest = 0
	}
}

// elapsed is the time since the engine was created.
func (s *stats) elapsed() time.Duration {
	return hrtime.Since(s.started)
}

func (s *stats) summary() {
	total := hrtime.Since(s.started)
	if s.frames == 0 {
		s.log.Info("no frames rendered", "elapsed", total)
		return
	}
	s.log.Info("rendered frames", "frames", s.frames, "elapsed", total, "avg", total/time.Duration(s.frames))
}
