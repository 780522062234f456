package config

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config carries every runtime knob chim reads at startup. Everything comes
// from the environment (or an optional .env overlay) so behavior that used to
// be baked into the build, like the validation toggle, stays adjustable per
// run.
type Config struct {
	WindowTitle  string
	WindowWidth  int
	WindowHeight int

	// Validation controls whether the Khronos validation layer and the debug
	// messenger are requested at instance creation.
	Validation bool

	LogLevel logrus.Level

	// PipelineCachePath names the pipeline cache file. Empty disables
	// persistence.
	PipelineCachePath string

	// FrameStatsEvery is the number of presented frames between frame-time
	// log lines. Zero disables the report.
	FrameStatsEvery int
}

// Load reads optional .env overlays from the working directory, then fills a
// Config from the environment. Missing overlay files are fine; malformed
// values are not.
func Load() (Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
	envy.Reload()

	cfg := Config{
		WindowTitle:       envy.Get("CHIM_WINDOW_TITLE", "CHIM: A new headache"),
		PipelineCachePath: envy.Get("CHIM_PIPELINE_CACHE", ""),
	}

	var err error
	cfg.WindowWidth, err = positiveInt("CHIM_WINDOW_WIDTH", 1280)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowHeight, err = positiveInt("CHIM_WINDOW_HEIGHT", 720)
	if err != nil {
		return Config{}, err
	}

	rawValidation := envy.Get("CHIM_VALIDATION", "true")
	cfg.Validation, err = strconv.ParseBool(rawValidation)
	if err != nil {
		return Config{}, errors.Newf("config: CHIM_VALIDATION=%q is not a boolean", rawValidation)
	}

	rawLevel := envy.Get("CHIM_LOG_LEVEL", "info")
	cfg.LogLevel, err = logrus.ParseLevel(rawLevel)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: CHIM_LOG_LEVEL=%q", rawLevel)
	}

	rawStats := envy.Get("CHIM_FRAME_STATS_EVERY", "300")
	cfg.FrameStatsEvery, err = strconv.Atoi(rawStats)
	if err != nil || cfg.FrameStatsEvery < 0 {
		return Config{}, errors.Newf("config: CHIM_FRAME_STATS_EVERY=%q is not a non-negative integer", rawStats)
	}

	return cfg, nil
}

func positiveInt(key string, fallback int) (int, error) {
	raw := envy.Get(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.Newf("config: %s=%q is not a positive integer", key, raw)
	}
	return v, nil
}
