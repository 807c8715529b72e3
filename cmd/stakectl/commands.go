package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ccoin/staking/internal/dispatch"
	"github.com/ccoin/staking/internal/era"
	"github.com/ccoin/staking/internal/ledger"
	"github.com/ccoin/staking/pkg/types"
)

func parseAddress(s string) (types.Address, error) {
	var a types.Address
	if err := a.UnmarshalText([]byte(s)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

func cmdBond(ctx context.Context, d *dispatch.Dispatch, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: stakectl bond <stash> <controller> <value>")
	}
	stash, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	controller, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	value, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[2], err)
	}
	if err := d.Bond(ctx, stash, controller, value, types.RewardDestinationStaked); err != nil {
		return err
	}
	fmt.Printf("bonded %d from %s under %s\n", value, stash, controller)
	return nil
}

func cmdValidate(ctx context.Context, d *dispatch.Dispatch, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stakectl validate <controller> <commission-percent>")
	}
	controller, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	pct, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid commission %q: %w", args[1], err)
	}
	prefs := types.ValidatorPrefs{Commission: types.PerbillFromParts(pct * (types.PerbillDenominator / 100))}
	if err := d.Validate(ctx, controller, prefs); err != nil {
		return err
	}
	fmt.Printf("%s now validating at %d%% commission\n", controller, pct)
	return nil
}

func cmdNominate(ctx context.Context, d *dispatch.Dispatch, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stakectl nominate <controller> <target...>")
	}
	controller, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	targets := make([]types.Address, 0, len(args)-1)
	for _, raw := range args[1:] {
		t, err := parseAddress(raw)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}
	if err := d.Nominate(ctx, controller, targets); err != nil {
		return err
	}
	fmt.Printf("%s now nominating %d target(s)\n", controller, len(targets))
	return nil
}

func cmdChill(ctx context.Context, d *dispatch.Dispatch, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stakectl chill <controller>")
	}
	controller, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	if err := d.Chill(ctx, controller); err != nil {
		return err
	}
	fmt.Printf("%s chilled\n", controller)
	return nil
}

func cmdLedger(ctx context.Context, store *ledger.LedgerStore, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stakectl ledger <controller>")
	}
	controller, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	l, ok, err := store.Get(ctx, controller)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("no ledger for %s\n", controller)
		return nil
	}
	fmt.Printf("stash:   %s\n", l.Stash)
	fmt.Printf("total:   %d\n", l.Total)
	fmt.Printf("active:  %d\n", l.Active)
	fmt.Printf("unlocking chunks: %d\n", len(l.Unlocking))
	return nil
}

func cmdStatus(ctx context.Context, eng *era.Engine, _ []string) error {
	active, err := eng.ActiveEra(ctx)
	if err != nil {
		return err
	}
	cur, err := eng.CurrentEra(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Staking status:")
	fmt.Printf("  active era:  %d\n", active.Index)
	if cur != nil {
		fmt.Printf("  current era: %d\n", *cur)
	} else {
		fmt.Println("  current era: (none)")
	}
	fmt.Printf("  validator count target: %d (min %d)\n", eng.ValidatorCount(), eng.MinimumValidatorCount())
	return nil
}

func cmdGovernance(ctx context.Context, d *dispatch.Dispatch, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stakectl governance <set-validator-count|force-new-era|set-invulnerables> ...")
	}
	switch args[0] {
	case "set-validator-count":
		if len(args) < 3 {
			return fmt.Errorf("usage: stakectl governance set-validator-count <desired> <minimum>")
		}
		desired, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		minimum, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		d.SetValidatorCount(desired, minimum)
		fmt.Printf("validator count set to %d (min %d)\n", desired, minimum)
		return nil
	case "force-new-era":
		if err := d.ForceNewEra(ctx); err != nil {
			return err
		}
		fmt.Println("era forced at next session boundary")
		return nil
	case "set-invulnerables":
		stashes := make([]types.Address, 0, len(args)-1)
		for _, raw := range args[1:] {
			a, err := parseAddress(raw)
			if err != nil {
				return err
			}
			stashes = append(stashes, a)
		}
		if err := d.SetInvulnerables(ctx, stashes); err != nil {
			return err
		}
		fmt.Printf("invulnerable set replaced with %d stash(es)\n", len(stashes))
		return nil
	default:
		return fmt.Errorf("unknown governance subcommand: %s", args[0])
	}
}
