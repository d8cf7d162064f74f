// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regulus-hq/regulus/services/rules"
)

func runScan(cmd *cobra.Command, args []string) error {
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

	if scanItemID != "" {
		item, err := a.sentStore.GetItem(ctx, scanItemID)
		if err != nil {
			return err
		}
		outcome, err := a.scheduler.ScanItem(ctx, item)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %s: changed=%v next=%s\n", outcome.URL, outcome.Changed, outcome.NextScanAt.Format("2006-01-02 15:04"))
		return nil
	}

	report, err := a.pipeline.RunScans(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Scanned %d items: %d changed, %d discovered, %d failed\n",
		report.Scanned, report.Changed, report.Discovered, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d scans failed; see failure records", report.Failed)
	}
	return nil
}

func runExtract(cmd *cobra.Command, args []string) error {
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

	if extractEvID != "" {
		outcome, err := a.pipeline.ExtractOne(ctx, extractEvID)
		if err != nil {
			return err
		}
		fmt.Printf("Extracted %s: %d facts, %d dropped\n", extractEvID, len(outcome.FactIDs), outcome.DroppedFacts)
		return nil
	}

	report, err := a.pipeline.RunExtraction(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Extracted %d snapshots: %d facts, %d drafts composed, %d conflicted, %d failed\n",
		report.Snapshots, report.Facts, len(report.ComposedRules), len(report.Conflicted), report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d extractions failed; see failure records", report.Failed)
	}
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
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

	ids := args
	if publishAll {
		approved, err := a.ruleStore.RulesByStatus(ctx, rules.StatusApproved)
		if err != nil {
			return err
		}
		for _, rule := range approved {
			ids = append(ids, rule.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("nothing to publish: pass rule ids or --all-approved")
	}

	outcomes := a.pipeline.PublishBatch(ctx, ids)
	var blocked int
	for _, outcome := range outcomes {
		if outcome.OK {
			fmt.Printf("PUBLISHED %s\n", outcome.RuleID)
		} else {
			blocked++
			fmt.Printf("BLOCKED   %s: %s\n", outcome.RuleID, outcome.Reason)
		}
	}
	if blocked > 0 {
		return fmt.Errorf("%d of %d rules blocked by the gate", blocked, len(outcomes))
	}
	return nil
}

func runArbitrate(cmd *cobra.Command, args []string) error {
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

	open, err := a.ruleStore.OpenConflicts(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		fmt.Println("No open conflicts.")
		return nil
	}

	var undecided int
	for _, c := range open {
		verdict, err := a.arbiter.Arbitrate(ctx, c.ID)
		if err != nil {
			return err
		}
		if verdict.Decided {
			fmt.Printf("RESOLVED %s: %s wins by %s\n", c.ID, verdict.WinnerID, verdict.Basis)
		} else {
			undecided++
			fmt.Printf("OPEN     %s: full tie, needs human review\n", c.ID)
		}
	}
	fmt.Printf("Arbitrated %d conflicts, %d left open\n", len(open), undecided)
	return nil
}

func runDigest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	pending := a.dog.Pending()
	a.dog.FlushDigest(cmd.Context())
	fmt.Printf("Flushed %d buffered warnings\n", pending)
	return nil
}
