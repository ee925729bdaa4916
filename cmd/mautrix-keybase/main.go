// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-keybase is a Matrix-Keybase bridge for 1:1 conversations.
// Each Matrix user logs in with their own Keybase paper key in a private
// admin room with the bridge bot, and every Keybase direct chat of that
// account is bridged to its own Matrix room.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	flag "maunium.net/go/mauflag"
	"maunium.net/go/mautrix/appservice"

	"github.com/aiku/mautrix-keybase/pkg/bridgeconfig"
	"github.com/aiku/mautrix-keybase/pkg/connector"
	"github.com/aiku/mautrix-keybase/pkg/database"
	"github.com/aiku/mautrix-keybase/pkg/keybase"
	"github.com/aiku/mautrix-keybase/pkg/matrix"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const name = "mautrix-keybase"

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var registrationPath = flag.MakeFull("r", "registration", "The path where to save the appservice registration.", "registration.yaml").String()
var generateRegistration = flag.MakeFull("g", "generate-registration", "Generate registration and quit.", "false").Bool()
var noSave = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		name+" - A Matrix-Keybase bridge for direct chats.",
		name+" [-hgn] [-c <path>] [-r <path>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	}

	cfg, err := bridgeconfig.Load(*configPath, !*noSave)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}
	if *generateRegistration {
		reg := cfg.GenerateRegistration()
		if err = reg.Save(*registrationPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to save registration:", err)
			os.Exit(21)
		}
		fmt.Println("Registration generated. See https://docs.mau.fi/bridges/general/registering-appservices.html for instructions on installing the registration.")
		os.Exit(0)
	}
	if err = cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(11)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Initializing " + name)

	reg, err := appservice.LoadRegistration(*registrationPath)
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to load registration")
		os.Exit(13)
	}

	rawDB, err := dbutil.NewFromConfig(name, cfg.Database, dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger()))
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize database connection")
		os.Exit(14)
	}
	db := database.New(rawDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	if err = db.Upgrade(ctx); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to upgrade database")
		os.Exit(15)
	}

	bridge, err := matrix.New(cfg, reg, log.With().Str("component", "matrix").Logger())
	if err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize appservice")
		os.Exit(16)
	}
	remote := keybase.NewNetwork(cfg.Network, log.With().Str("component", "keybase").Logger())
	kc := connector.NewKeybaseConnector(cfg.Network, db, bridge, remote, log.With().Str("component", "connector").Logger())

	if err = kc.Init(ctx); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to initialize bridge")
		os.Exit(18)
	}
	if err = bridge.Start(ctx, kc); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to start appservice")
		os.Exit(17)
	}
	if err = kc.Start(ctx); err != nil {
		log.WithLevel(zerolog.FatalLevel).Err(err).Msg("Failed to start bridge")
		os.Exit(19)
	}
	log.Info().Msg("Bridge started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bridge.Stop()
	kc.Stop(shutdownCtx)
	if err = rawDB.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
	log.Info().Msg("Shutdown complete")
}
