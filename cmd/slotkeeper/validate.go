package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/tuning"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check settings, policies and messages without starting anything",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

var errInvalid = errors.New("configuration has problems")

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	settings, err := tuning.Load(settingsPath)
	if err != nil {
		return err
	}

	set, issues, err := policy.Load(settings.PoliciesPath)
	if err != nil {
		return err
	}
	for _, is := range issues {
		fmt.Fprintf(out, "skip  %v\n", is)
	}
	for _, p := range set.All() {
		fmt.Fprintf(out, "ok    %-16s slot %-2d %s\n", p.ID, p.Slot, p.Appearance.Material)
	}
	if zones := set.EnabledZones(); len(zones) > 0 {
		fmt.Fprintf(out, "zones %v\n", zones)
	} else {
		fmt.Fprintln(out, "zones (all)")
	}

	if _, err := messages.Load(settings.MessagesPath); err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("%w: %d policy entries skipped", errInvalid, len(issues))
	}
	return nil
}
