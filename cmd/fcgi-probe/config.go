package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProbeConfig is an optional YAML file of default CGI parameters, merged
// under whatever the command-line flags supply. It is CLI-only: nothing in
// the fastcgi package knows about it.
type ProbeConfig struct {
	Network string            `yaml:"network"`
	Address string            `yaml:"address"`
	Params  map[string]string `yaml:"params"`
}

func loadConfig(path string) (*ProbeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %q: %w", path, err)
	}
	defer f.Close()

	var cfg ProbeConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return &cfg, nil
}
