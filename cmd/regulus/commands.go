// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	seedFile       string
	scanItemID     string
	extractEvID    string
	publishAll     bool
	serveAddr      string

	rootCmd = &cobra.Command{
		Use:   "regulus",
		Short: "Regulatory truth pipeline: monitor, extract, verify, publish",
		Long: `Regulus monitors regulatory sources for change, snapshots changed
content as immutable evidence, extracts quote-grounded facts, and manages
the lifecycle of the rules composed from them. Nothing publishes without
its quotes re-verifying against stored evidence.`,
		SilenceUsage: true,
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Load regulatory sources and starting URLs from a YAML file",
		RunE:  runSeed,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Scan due items (or one item with --item) for changed content",
		RunE:  runScan,
	}

	extractCmd = &cobra.Command{
		Use:   "extract",
		Short: "Extract facts from pending evidence and compose draft rules",
		RunE:  runExtract,
	}

	publishCmd = &cobra.Command{
		Use:   "publish [rule-id...]",
		Short: "Promote rules to PUBLISHED through the provenance gate",
		RunE:  runPublish,
	}

	arbitrateCmd = &cobra.Command{
		Use:   "arbitrate",
		Short: "Arbitrate open conflicts by authority, confidence, recency",
		RunE:  runArbitrate,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status: sources, due items, rules, conflicts, breakers",
		RunE:  runStatus,
	}

	digestCmd = &cobra.Command{
		Use:   "digest",
		Short: "Flush buffered warnings as the daily digest",
		RunE:  runDigest,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only rules API and metrics",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")

	seedCmd.Flags().StringVar(&seedFile, "file", "sources.yaml", "YAML file of sources and URLs to monitor")
	scanCmd.Flags().StringVar(&scanItemID, "item", "", "Scan a single item by id instead of everything due")
	extractCmd.Flags().StringVar(&extractEvID, "evidence", "", "Extract a single evidence snapshot by id")
	publishCmd.Flags().BoolVar(&publishAll, "all-approved", false, "Publish every APPROVED rule")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides serve.addr)")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(arbitrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(serveCmd)
}
