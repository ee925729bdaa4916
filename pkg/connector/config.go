// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"text/template"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

// Config holds the Keybase connector configuration (the network section of
// the bridge config).
type Config struct {
	// KeybaseLocation is the path of the keybase binary. Empty means
	// "keybase" from $PATH.
	KeybaseLocation string `yaml:"keybase_location"`
	// HomeDir is the directory under which each logged-in account gets its
	// own Keybase home, so that several oneshot sessions can run side by side.
	HomeDir             string `yaml:"home_dir"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// AdminAPIAddr is the listen address for the admin HTTP API serving
	// /api/sessions, /api/restore and /api/rooms. Leave empty to disable the
	// API.
	AdminAPIAddr string `yaml:"admin_api_addr"`
	// RestoreConcurrency limits how many sessions are restored in parallel
	// on startup.
	RestoreConcurrency int `yaml:"restore_concurrency"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	// Name is the first non-empty of Username, DeviceName and DeviceID.
	Name       string
	Username   string
	DeviceName string
	DeviceID   string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

// UpgradeConfig copies the network section from an existing config during a
// config upgrade.
func UpgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "network", "keybase_location")
	helper.Copy(up.Str, "network", "home_dir")
	helper.Copy(up.Str, "network", "displayname_template")
	helper.Copy(up.Str, "network", "admin_api_addr")
	helper.Copy(up.Int, "network", "restore_concurrency")
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf strings.Builder
	err := c.displaynameTemplate.Execute(&buf, params)
	if err != nil || buf.Len() == 0 {
		return params.Name
	}
	return buf.String()
}
