// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config is the operator-facing configuration, loaded from config.yaml
// with REGULUS_* environment overrides.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogDir   string `mapstructure:"log_dir"`
	LogLevel string `mapstructure:"log_level"`
	JSONLogs bool   `mapstructure:"json_logs"`

	// Provider selects the extraction backend: "openai" or "static".
	Provider string `mapstructure:"provider"`

	ScanWorkers int `mapstructure:"scan_workers"`

	RateLimit struct {
		RequestDelaySeconds int `mapstructure:"request_delay_seconds"`
		FailureThreshold    int `mapstructure:"failure_threshold"`
		ResetWindowMinutes  int `mapstructure:"reset_window_minutes"`
	} `mapstructure:"rate_limit"`

	Alerts struct {
		WebhookURL string   `mapstructure:"webhook_url"`
		SMTPHost   string   `mapstructure:"smtp_host"`
		SMTPPort   int      `mapstructure:"smtp_port"`
		SMTPFrom   string   `mapstructure:"smtp_from"`
		SMTPTo     []string `mapstructure:"smtp_to"`
	} `mapstructure:"alerts"`

	Serve struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"serve"`
}

// loadConfig reads configPath when it exists; missing files fall back to
// defaults so a fresh checkout runs without setup.
func loadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REGULUS")
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("json_logs", true)
	v.SetDefault("provider", "static")
	v.SetDefault("scan_workers", 4)
	v.SetDefault("rate_limit.request_delay_seconds", 2)
	v.SetDefault("rate_limit.failure_threshold", 5)
	v.SetDefault("rate_limit.reset_window_minutes", 60)
	v.SetDefault("serve.addr", ":8080")

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
	}
	return cfg, nil
}
