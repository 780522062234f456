package main

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/seadaemon/Chim/internal/config"
	"github.com/seadaemon/Chim/internal/render"
)

func main() {
	// SDL requires the window and its event pump to live on one OS thread.
	runtime.LockOSThread()

	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
	log.SetLevel(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		if render.IsSetupFailure(err) {
			log.Errorf("setup failed: %+v", err)
		} else {
			log.Errorf("render loop failed: %+v", err)
		}
		log.Exit(1)
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	app := render.NewApp(cfg, log)
	defer app.Cleanup()

	if err := app.Init(); err != nil {
		return err
	}
	return app.Run()
}
