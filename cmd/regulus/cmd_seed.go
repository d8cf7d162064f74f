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

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/regulus-hq/regulus/services/sentinel"
)

// seedEntry is one source plus its starting URLs.
type seedEntry struct {
	sentinel.RegulatorySource `yaml:",inline"`

	// URLs are discovered under the source immediately; hub crawling
	// finds the rest over time.
	URLs []string `yaml:"urls"`
}

type seedFileContent struct {
	Sources []seedEntry `yaml:"sources"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	raw, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", seedFile, err)
	}
	var content seedFileContent
	if err := yaml.Unmarshal(raw, &content); err != nil {
		return fmt.Errorf("parse seed file %s: %w", seedFile, err)
	}
	if len(content.Sources) == 0 {
		return fmt.Errorf("seed file %s declares no sources", seedFile)
	}

	validate := validator.New()
	for _, entry := range content.Sources {
		if err := validate.Struct(entry.RegulatorySource); err != nil {
			return fmt.Errorf("source %q: %w", entry.ID, err)
		}
	}

	var discovered int
	for _, entry := range content.Sources {
		src := entry.RegulatorySource
		src.Active = true
		if err := a.sentStore.UpsertSource(ctx, src); err != nil {
			return err
		}
		for _, url := range entry.URLs {
			if _, err := a.scheduler.Discover(ctx, src.ID, url); err != nil {
				return err
			}
			discovered++
		}
		fmt.Printf("Seeded source %s (%s) with %d URLs\n", src.ID, src.Authority, len(entry.URLs))
	}

	fmt.Printf("Done: %d sources, %d monitored URLs\n", len(content.Sources), discovered)
	return nil
}
