// Copyright 2024-2026 Aiku AI

package bridgeconfig

import (
	"fmt"

	up "go.mau.fi/util/configupgrade"

	"github.com/aiku/mautrix-keybase/pkg/connector"
)

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")

	helper.Copy(up.Str, "appservice", "address")
	helper.Copy(up.Str|up.Null, "appservice", "hostname")
	helper.Copy(up.Int, "appservice", "port")
	helper.Copy(up.Str, "appservice", "id")
	helper.Copy(up.Str, "appservice", "bot", "username")
	helper.Copy(up.Str, "appservice", "bot", "displayname")
	helper.Copy(up.Str, "appservice", "username_prefix")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "max_conn_idle_time")
	helper.Copy(up.Str|up.Null, "database", "max_conn_lifetime")

	connector.UpgradeConfig(helper)

	helper.Copy(up.Map, "logging")
}

var SpacedBlocks = [][]string{
	{"appservice"},
	{"database"},
	{"network"},
	{"logging"},
}

// Upgrader merges an existing config into the embedded example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks:         SpacedBlocks,
	Base:           ExampleConfig,
}

// Load reads the config at path, upgrades it to the current layout and
// parses it. If save is set, the upgraded config is written back.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}
