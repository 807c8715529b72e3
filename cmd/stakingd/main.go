// stakingd is the staking engine daemon: connects to PostgreSQL, wires
// every component into a dispatch.Dispatch, and drives the session/era
// state machine on a fixed tick since the session module itself is out
// of scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

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

const (
	version = "0.1.0"
	banner  = `
  ____  _        _    _
 / ___|| |_ __ _| | _(_)_ __   __ _
 \___ \| __/ _` + "`" + ` | |/ / | '_ \ / _` + "`" + ` |
  ___) | || (_| |   <| | | | | (_| |
 |____/ \__\__,_|_|\_\_|_| |_|\__, |
                              |___/
  Staking Daemon v%s
`
)

// Config holds daemon configuration.
type Config struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	SessionInterval time.Duration
	LogLevel        string
}

func main() {
	cfg := parseFlags()
	fmt.Printf(banner, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "staking", "PostgreSQL user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "staking", "PostgreSQL database name")

	flag.DurationVar(&cfg.SessionInterval, "session-interval", 6*time.Second, "fixed interval between session advances (stand-in for the external session module)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	flag.Parse()
	return cfg
}

func logger(level string) capability.Logger {
	return func(format string, args ...any) {
		fmt.Printf("["+level+"] "+format+"\n", args...)
	}
}

func run(ctx context.Context, cfg *Config) error {
	fmt.Println("Connecting to database...")
	store, err := storage.NewPostgresStore(ctx, &storage.Config{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, Database: cfg.DBName,
		SSLMode: "disable", MaxConns: 20,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()
	fmt.Println("Database connected.")

	log := logger(cfg.LogLevel)
	currency := newMemCurrency()
	sessions := &sessionCounter{}

	caps := capability.Capabilities{
		Currency: currency,
		Clock:    systemClock{},
		Session:  sessions,
		Curve: func(totalStaked, totalIssuance, durationMillis uint64) (payout, maxPayout uint64) {
			// Flat 5% annualized placeholder; the real piecewise-linear
			// inflation curve is a pure out-of-scope function (spec.md §1).
			maxPayout = totalIssuance / 20 * durationMillis / uint64(365*24*time.Hour/time.Millisecond)
			return maxPayout, maxPayout
		},
		Log: log,
	}

	ledgerStore := ledger.New(store, caps, ledger.DefaultParams())
	reg, err := registry.New(ctx, store, ledgerStore)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
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

	electionValidator := election.New(store, greedyPhragmen, ledgerStore.ActiveBalanceOf)

	slashingEngine := slashing.New(
		store, exposures, ledgerStore, era.NewSlashEraSource(store),
		ledgerStore.ControllerOf, reg.IsInvulnerable,
		func() bool { return electionValidator.Status().Open },
		caps, slashing.Params{SlashDeferDuration: 28, RewardProportion: types.PerbillFromParts(types.PerbillDenominator / 10), BondingDuration: 28},
	)

	eraEngine := era.New(
		store, store, exposures, electionValidator, reg, slashingEngine,
		noopHistoryPruner{logf: log}, treasury,
		func(block uint64) (uint64, bool) { return 0, false },
		caps, era.DefaultParams(),
	)
	payout := era.NewPayout(eraEngine, ledgerStore, store.GetPayee)

	ledgerStore.OnReap(reg.ClearStash)
	ledgerStore.OnReap(slashingEngine.ClearStash)

	validatorKeys := make(map[uint16][]byte)
	ops := dispatch.New(ledgerStore, reg, eraEngine, payout, electionValidator, slashingEngine, caps,
		func(index uint16) ([]byte, bool) { key, ok := validatorKeys[index]; return key, ok })

	// TODO: bind ops to a transport (RPC/gRPC) once the host runtime's
	// dispatch wire format is decided; until then stakectl exercises it
	// by constructing the same components in-process.
	_ = ops

	fmt.Println("Staking engine wired. Driving session loop.")
	ticker := time.NewTicker(cfg.SessionInterval)
	defer ticker.Stop()

	var block uint64
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Session loop stopped.")
			return nil
		case <-ticker.C:
			block++
			if err := eraEngine.OnInitialize(ctx, block); err != nil {
				log("on_initialize failed at block %d: %v", block, err)
				continue
			}
			current := sessions.CurrentSessionIndex()
			if err := eraEngine.EndSession(ctx, current); err != nil {
				log("end_session(%d) failed: %v", current, err)
			}
			next := sessions.advance()
			if err := eraEngine.NewSession(ctx, next); err != nil {
				log("new_session(%d) failed: %v", next, err)
			}
			if err := eraEngine.StartSession(ctx, next); err != nil {
				log("start_session(%d) failed: %v", next, err)
			}
			if err := eraEngine.OnFinalize(ctx, block); err != nil {
				log("on_finalize failed at block %d: %v", block, err)
				continue
			}
		}
	}
}
