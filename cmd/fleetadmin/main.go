package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/iotfleet/fleetadmin/fleetapi"
	"github.com/iotfleet/fleetadmin/internal/config"
	"github.com/iotfleet/fleetadmin/internal/utils"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %s\n", err)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	configPath := flag.String("config", "fleetadmin.toml", "path to the config file")
	email := flag.String("email", os.Getenv("FLEETADMIN_EMAIL"), "login email")
	password := flag.String("password", os.Getenv("FLEETADMIN_PASSWORD"), "login password")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	displayAppname("fleetadmin")

	logger := newLogger(cfg.LogLevel)

	client, err := fleetapi.New(cfg.BaseURL, fleetapi.WithLogger(logger))
	if err != nil {
		return err
	}

	client.OnSessionEnded(func(path string) {
		logger.Warn().Str("path", path).Msg("session ended, please log in again")
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()

	if err := client.Login(ctx, *email, *password); err != nil {
		return err
	}
	defer client.Logout(context.Background())

	if err := client.LoadAll(ctx); err != nil {
		return err
	}

	for _, d := range client.Devices().List() {
		owner := d.CompanySlug
		if owner == "" {
			owner = d.DealerSlug
		}
		limit := "unlimited"
		if d.SensorLimit != nil {
			limit = fmt.Sprintf("%d", utils.Value(d.SensorLimit))
		}
		fmt.Printf("%-24s %-20s owner=%-12s sensors<=%s\n", d.ID, d.Name, owner, limit)
	}

	logger.Info().
		Int("devices", client.Devices().Len()).
		Int("sensors", client.Sensors().Len()).
		Int("companies", client.Companies().Len()).
		Int("dealers", client.Dealers().Len()).
		Int("users", client.Users().Len()).
		Msg("fleet loaded")

	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
