// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/regulus-hq/regulus/services/rules"
)

func runStatus(cmd *cobra.Command, args []string) error {
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

	sources, err := a.sentStore.ListActiveSources(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Sources: %d active\n", len(sources))
	for _, src := range sources {
		last := "never"
		if src.LastFetchedAt != nil {
			last = src.LastFetchedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-24s %-10s last fetch: %s\n", src.ID, src.Authority, last)
	}

	due, err := a.scheduler.DueItems(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Items due for scan: %d\n", len(due))

	pending, err := a.evStore.PendingExtraction(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Evidence pending extraction: %d\n", len(pending))

	allRules, err := a.ruleStore.ListRules(ctx)
	if err != nil {
		return err
	}
	byStatus := make(map[rules.Status]int)
	for _, rule := range allRules {
		byStatus[rule.Status]++
	}
	fmt.Printf("Rules: %d total", len(allRules))
	for _, st := range []rules.Status{rules.StatusDraft, rules.StatusPendingReview, rules.StatusApproved,
		rules.StatusPublished, rules.StatusConflict, rules.StatusRejected} {
		if byStatus[st] > 0 {
			fmt.Printf("  %s=%d", st, byStatus[st])
		}
	}
	fmt.Println()

	open, err := a.ruleStore.OpenConflicts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Open conflicts: %d\n", len(open))
	for _, c := range open {
		fmt.Printf("  %s %s (%s)\n", c.CreatedAt.Format(time.DateOnly), c.Type, c.Description)
	}

	states := a.limiter.States()
	if len(states) > 0 {
		fmt.Println("Circuit breakers:")
		for domain, state := range states {
			fmt.Printf("  %-32s %s\n", domain, state)
		}
	}

	failures, err := a.ruleStore.ListFailures(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded soft failures: %d\n", len(failures))
	return nil
}
