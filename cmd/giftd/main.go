package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmstore/giftd/internal/config"
	webservice "github.com/charmstore/giftd/internal/interface/web"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version string

func main() {
	app := cli.NewApp()
	app.Name = "giftd"
	app.Usage = "gift-card charm engine daemon"
	app.Version = Version
	app.Flags = config.Flags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	appSvc, err := cfg.AppService()
	if err != nil {
		return fmt.Errorf("failed to create app service: %s", err)
	}

	svc, err := webservice.NewService(cfg.Port, appSvc)
	if err != nil {
		return fmt.Errorf("failed to create service: %s", err)
	}

	log.Debugf("giftd config: %s", cfg)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %s", err)
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
	return nil
}
