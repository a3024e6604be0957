package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"lanlink/internal/app"
)

type fileConfig struct {
	Name          string `toml:"name"`
	Host          bool   `toml:"host"`
	HubAddr       string `toml:"hub_addr"`
	BindAddr      string `toml:"bind_addr"`
	DiscoveryPort int    `toml:"discovery_port"`
	SaveDir       string `toml:"save_dir"`
	DataDir       string `toml:"data_dir"`
}

// loadConfig layers a TOML file over cfg. Only keys present in the file
// override anything.
func loadConfig(path string, cfg app.Config) (app.Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return app.Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("host") {
		cfg.Host = raw.Host
	}
	if meta.IsDefined("hub_addr") {
		cfg.HubAddr = strings.TrimSpace(raw.HubAddr)
	}
	if meta.IsDefined("bind_addr") {
		cfg.BindAddr = strings.TrimSpace(raw.BindAddr)
	}
	if meta.IsDefined("discovery_port") {
		cfg.DiscoveryPort = raw.DiscoveryPort
	}
	if meta.IsDefined("save_dir") {
		cfg.SaveDir = strings.TrimSpace(raw.SaveDir)
	}
	if meta.IsDefined("data_dir") {
		cfg.DataDir = strings.TrimSpace(raw.DataDir)
	}
	return cfg, nil
}
