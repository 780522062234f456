package render

import (
	"time"

	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
)

// frameStats logs windowed frame timing off the high-resolution clock. It
// costs one hrtime read per frame and only does arithmetic when a window
// closes.
type frameStats struct {
	log         logrus.FieldLogger
	every       int
	count       int
	windowStart time.Duration
}

func newFrameStats(every int, log logrus.FieldLogger) *frameStats {
	return &frameStats{
		log:         log,
		every:       every,
		windowStart: hrtime.Now(),
	}
}

// frameDone records one presented frame and logs a summary whenever a full
// window of frames has elapsed.
func (f *frameStats) frameDone() {
	if f.every <= 0 {
		return
	}

	f.count++
	if f.count < f.every {
		return
	}

	elapsed := hrtime.Since(f.windowStart)
	avg := elapsed / time.Duration(f.count)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(f.count) / elapsed.Seconds()
	}
	f.log.WithFields(logrus.Fields{
		"frames": f.count,
		"avg":    avg.Round(time.Microsecond).String(),
		"fps":    int(fps + 0.5),
	}).Info("frame timing")

	f.count = 0
	f.windowStart = hrtime.Now()
}
