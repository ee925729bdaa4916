// Copyright 2024-2026 Aiku AI

// Package bridgeconfig loads and upgrades the bridge config file.
package bridgeconfig

import (
	_ "embed"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mautrix-keybase/pkg/connector"
)

//go:embed example-config.yaml
var ExampleConfig string

var (
	ErrMissingHomeserver = errors.New("homeserver address and domain must be set")
	ErrMissingAppService = errors.New("appservice address, id and bot username must be set")
	ErrExampleDomain     = errors.New("homeserver domain is still the example value")
)

type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	AppService AppServiceConfig  `yaml:"appservice"`
	Database   dbutil.Config     `yaml:"database"`
	Network    connector.Config  `yaml:"network"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type HomeserverConfig struct {
	Address string `yaml:"address"`
	Domain  string `yaml:"domain"`
}

type AppServiceConfig struct {
	Address  string `yaml:"address"`
	Hostname string `yaml:"hostname"`
	Port     uint16 `yaml:"port"`

	ID  string    `yaml:"id"`
	Bot BotConfig `yaml:"bot"`

	UsernamePrefix string `yaml:"username_prefix"`
}

type BotConfig struct {
	Username    string `yaml:"username"`
	Displayname string `yaml:"displayname"`
}

// Parse decodes an upgraded config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the bridge can't start without.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Homeserver.Address == "" || cfg.Homeserver.Domain == "":
		return ErrMissingHomeserver
	case cfg.Homeserver.Domain == "example.com":
		return ErrExampleDomain
	case cfg.AppService.Address == "" || cfg.AppService.ID == "" || cfg.AppService.Bot.Username == "":
		return ErrMissingAppService
	}
	return nil
}
