// Copyright 2024-2026 Aiku AI

package bridgeconfig

import (
	"fmt"
	"regexp"

	"maunium.net/go/mautrix/appservice"
)

// GhostRegex matches the MXIDs of Keybase user ghosts.
func (cfg *Config) GhostRegex() string {
	return fmt.Sprintf("^@%s.+:%s$",
		regexp.QuoteMeta(cfg.AppService.UsernamePrefix),
		regexp.QuoteMeta(cfg.Homeserver.Domain))
}

// GenerateRegistration creates a new appservice registration with fresh
// tokens for the bot and ghost namespaces.
func (cfg *Config) GenerateRegistration() *appservice.Registration {
	reg := appservice.CreateRegistration()
	reg.ID = cfg.AppService.ID
	reg.URL = cfg.AppService.Address
	reg.SenderLocalpart = cfg.AppService.Bot.Username
	rateLimited := false
	reg.RateLimited = &rateLimited

	botRegex := fmt.Sprintf("^@%s:%s$",
		regexp.QuoteMeta(cfg.AppService.Bot.Username),
		regexp.QuoteMeta(cfg.Homeserver.Domain))
	reg.Namespaces.UserIDs = append(reg.Namespaces.UserIDs,
		appservice.Namespace{Regex: botRegex, Exclusive: true},
		appservice.Namespace{Regex: cfg.GhostRegex(), Exclusive: true},
	)
	return reg
}
