// stakectl is the command-line client for the staking engine. It has no
// RPC transport to dial (spec.md §1: transaction dispatch internals are
// out of scope), so it connects to the same PostgreSQL store stakingd
// uses and issues dispatch calls in-process, the way an off-chain
// caller would submit a transaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/dispatch"
	"github.com/ccoin/staking/internal/economics"
	"github.com/ccoin/staking/internal/election"
	"github.com/ccoin/staking/internal/era"
	"github.com/ccoin/staking/internal/exposure"
	"github.com/ccoin/staking/internal/ledger"
	"github.com/ccoin/staking/internal/registry"
	"github.com/ccoin/staking/internal/slashing"
	"github.com/ccoin/staking/internal/storage"
	"github.com/ccoin/staking/pkg/types"
)

const version = "0.1.0"

var (
	dbHost     = flag.String("db-host", "localhost", "PostgreSQL host")
	dbPort     = flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser     = flag.String("db-user", "staking", "PostgreSQL user")
	dbPassword = flag.String("db-password", "", "PostgreSQL password")
	dbName     = flag.String("db-name", "staking", "PostgreSQL database name")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	if command == "version" {
		fmt.Printf("stakectl v%s\n", version)
		return
	}
	if command == "help" {
		printUsage()
		return
	}

	ctx := context.Background()
	store, err := storage.NewPostgresStore(ctx, &storage.Config{
		Host: *dbHost, Port: *dbPort, User: *dbUser, Password: *dbPassword,
		Database: *dbName, SSLMode: "disable", MaxConns: 5,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	d, ledgerStore, _, eraEngine, err := wire(ctx, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to wire engine: %v\n", err)
		os.Exit(1)
	}

	rest := args[1:]
	switch command {
	case "bond":
		err = cmdBond(ctx, d, rest)
	case "validate":
		err = cmdValidate(ctx, d, rest)
	case "nominate":
		err = cmdNominate(ctx, d, rest)
	case "chill":
		err = cmdChill(ctx, d, rest)
	case "status":
		err = cmdStatus(ctx, eraEngine, rest)
	case "ledger":
		err = cmdLedger(ctx, ledgerStore, rest)
	case "governance":
		err = cmdGovernance(ctx, d, rest)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("stakectl - command-line client for the staking engine")
	fmt.Println()
	fmt.Println("Usage: stakectl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  version                          Show version information")
	fmt.Println("  help                             Show this help message")
	fmt.Println("  status                           Show era/session status")
	fmt.Println("  bond <stash> <ctrl> <value>       Bond value from stash under controller")
	fmt.Println("  validate <ctrl> <commission>      Register controller's stash as a validator")
	fmt.Println("  nominate <ctrl> <target...>       Register controller's stash as a nominator")
	fmt.Println("  chill <ctrl>                      Leave the validator/nominator set")
	fmt.Println("  ledger <ctrl>                     Print controller's bonding ledger")
	fmt.Println("  governance set-validator-count <n> <min>   Privileged parameter change")
	fmt.Println("  governance force-new-era")
	fmt.Println("  governance set-invulnerables <stash...>")
}

func wire(ctx context.Context, store *storage.PostgresStore) (*dispatch.Dispatch, *ledger.LedgerStore, *registry.Registry, *era.Engine, error) {
	caps := capability.Capabilities{Currency: noopCurrency{}, Clock: systemClock{}}

	ledgerStore := ledger.New(store, caps, ledger.DefaultParams())
	reg, err := registry.New(ctx, store, ledgerStore)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	exposures := exposure.New(store, types.MaxNominatorRewardedPerValidator)
	treasury := economics.New(store, func() types.EraIndex {
		cur, err := store.GetCurrentEra(ctx)
		if err != nil || cur == nil {
			return 0
		}
		return *cur
	})
	caps.Slash = treasury

	electionValidator := election.New(store, nil, ledgerStore.ActiveBalanceOf)
	slashingEngine := slashing.New(
		store, exposures, ledgerStore, era.NewSlashEraSource(store),
		ledgerStore.ControllerOf, reg.IsInvulnerable,
		func() bool { return electionValidator.Status().Open },
		caps, slashing.Params{SlashDeferDuration: 28, RewardProportion: types.PerbillFromParts(types.PerbillDenominator / 10), BondingDuration: 28},
	)
	eraEngine := era.New(
		store, store, exposures, electionValidator, reg, slashingEngine,
		noopPruner{}, treasury, func(uint64) (uint64, bool) { return 0, false },
		caps, era.DefaultParams(),
	)
	payout := era.NewPayout(eraEngine, ledgerStore, store.GetPayee)
	ledgerStore.OnReap(reg.ClearStash)
	ledgerStore.OnReap(slashingEngine.ClearStash)

	d := dispatch.New(ledgerStore, reg, eraEngine, payout, electionValidator, slashingEngine, caps,
		func(uint16) ([]byte, bool) { return nil, false })
	return d, ledgerStore, reg, eraEngine, nil
}

type noopCurrency struct{}

func (noopCurrency) FreeBalance(types.Address) uint64 { return 1 << 62 }
func (noopCurrency) SetLock(types.Address, uint64)    {}
func (noopCurrency) RemoveLock(types.Address)         {}
func (noopCurrency) Deposit(types.Address, uint64)    {}
func (noopCurrency) DecrementConsumers(types.Address) {}

type systemClock struct{}

func (systemClock) NowMillis() uint64 { return 0 }

type noopPruner struct{}

func (noopPruner) PruneUpTo(context.Context, types.EraIndex) {}
