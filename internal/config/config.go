// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the server's startup configuration,
// the way the teacher's internal/config does: a package-level JSON
// schema compiled via santhosh-tekuri/jsonschema/v5, a Go struct with
// sane defaults, and a strict decoder that rejects unknown fields.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// NATSConfig configures the provider ingest adapter (internal/ingest).
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// Config is the full set of startup keys (spec §6 connection parameters
// plus the ambient stack this core needs to boot).
type Config struct {
	SelfURN                  string      `json:"selfUrn"`
	Addr                     string      `json:"addr"`
	ServerName               string      `json:"serverName"`
	IngressQueueCapacity     int         `json:"ingressQueueCapacity"`
	SubscriberBufferCapacity int         `json:"subscriberBufferCapacity"`
	DefaultSubscribeMode     string      `json:"defaultSubscribeMode"`
	SendCachedValues         bool        `json:"sendCachedValues"`
	LogLevel                 string      `json:"logLevel"`
	LogDate                  bool        `json:"logDate"`
	NATS                     *NATSConfig `json:"nats,omitempty"`
	User                     string      `json:"user,omitempty"`
	Group                    string      `json:"group,omitempty"`
	GopsAgent                bool        `json:"gopsAgent"`
}

// Defaults mirrors the teacher's package-level Keys var: a ready-to-run
// configuration that Load overlays the config file onto.
func Defaults() Config {
	return Config{
		Addr:                     ":3000",
		ServerName:               "signalk-server",
		IngressQueueCapacity:     1024,
		SubscriberBufferCapacity: 256,
		DefaultSubscribeMode:     "self",
		SendCachedValues:         true,
		LogLevel:                 "info",
		LogDate:                  false,
	}
}

// Load reads and validates a config file, decoding it onto Defaults().
// A missing file is not an error: the defaults are returned as-is, the
// same tolerance the teacher's Init affords a missing config file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return cfg, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if cfg.SelfURN == "" {
		return cfg, fmt.Errorf("config: selfUrn is required")
	}
	return cfg, nil
}
