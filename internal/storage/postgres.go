// Package storage implements the PostgreSQL-backed persistence layer for
// the staking engine: the bonding ledger, per-era exposures, the
// election snapshot/queue, and the slashing span ledger.
//
// Grounded on the teacher's internal/storage/postgres.go: a
// pgxpool.Pool wrapped in a single store type, Config/DefaultConfig,
// NewPostgresStore(ctx, cfg) with a ping-on-connect check, and
// fmt.Errorf("%w: ...") wrapping around a small set of sentinel errors.
// Complex nested values (ledgers, exposures, spans, reward-point maps)
// are stored as JSONB columns rather than fully normalized tables,
// since they are always read and written whole by their owning
// component and never queried by sub-field.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/staking/internal/election"
	"github.com/ccoin/staking/internal/era"
	"github.com/ccoin/staking/internal/slashing"
	"github.com/ccoin/staking/pkg/types"
)

// Common errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidData  = errors.New("invalid data")
	ErrDBConnection = errors.New("database connection error")
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns default database configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "staking",
		Password: "",
		Database: "staking",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// PostgresStore implements every staking component's Store interface
// over a single PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ============================================
// Ledger (spec.md §4.1, internal/ledger.Store)
// ============================================

func (s *PostgresStore) SaveLedger(ctx context.Context, controller types.Address, ledger *types.StakingLedger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledgers (controller, data) VALUES ($1, $2)
		ON CONFLICT (controller) DO UPDATE SET data = $2
	`, controller[:], data)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, controller types.Address) (*types.StakingLedger, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM ledgers WHERE controller = $1`, controller[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get ledger: %w", err)
	}
	var ledger types.StakingLedger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &ledger, true, nil
}

func (s *PostgresStore) DeleteLedger(ctx context.Context, controller types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ledgers WHERE controller = $1`, controller[:])
	return err
}

func (s *PostgresStore) SaveBonded(ctx context.Context, stash, controller types.Address) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bonded (stash, controller) VALUES ($1, $2)
		ON CONFLICT (stash) DO UPDATE SET controller = $2
	`, stash[:], controller[:])
	return err
}

func (s *PostgresStore) GetBonded(ctx context.Context, stash types.Address) (types.Address, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT controller FROM bonded WHERE stash = $1`, stash[:]).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.EmptyAddress, false, nil
	}
	if err != nil {
		return types.EmptyAddress, false, err
	}
	return types.AddressFromBytes(raw), true, nil
}

func (s *PostgresStore) DeleteBonded(ctx context.Context, stash types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM bonded WHERE stash = $1`, stash[:])
	return err
}

func (s *PostgresStore) SavePayee(ctx context.Context, stash types.Address, dest types.RewardDestination) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payees (stash, dest) VALUES ($1, $2)
		ON CONFLICT (stash) DO UPDATE SET dest = $2
	`, stash[:], int16(dest))
	return err
}

func (s *PostgresStore) GetPayee(ctx context.Context, stash types.Address) (types.RewardDestination, bool, error) {
	var dest int16
	err := s.pool.QueryRow(ctx, `SELECT dest FROM payees WHERE stash = $1`, stash[:]).Scan(&dest)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return types.RewardDestination(dest), true, nil
}

func (s *PostgresStore) DeletePayee(ctx context.Context, stash types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM payees WHERE stash = $1`, stash[:])
	return err
}

// ============================================
// Exposure (spec.md §4.2, internal/exposure.Store)
// ============================================

func (s *PostgresStore) SaveExposure(ctx context.Context, era types.EraIndex, validator types.Address, full, clipped types.Exposure) error {
	fullData, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	clippedData, err := json.Marshal(clipped)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO era_exposures (era, validator, full_data, clipped_data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (era, validator) DO UPDATE SET full_data = $3, clipped_data = $4
	`, era, validator[:], fullData, clippedData)
	return err
}

func (s *PostgresStore) GetExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	return s.getExposureColumn(ctx, era, validator, "full_data")
}

func (s *PostgresStore) GetClippedExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	return s.getExposureColumn(ctx, era, validator, "clipped_data")
}

func (s *PostgresStore) getExposureColumn(ctx context.Context, era types.EraIndex, validator types.Address, column string) (types.Exposure, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM era_exposures WHERE era = $1 AND validator = $2`, column), era, validator[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Exposure{}, false, nil
	}
	if err != nil {
		return types.Exposure{}, false, err
	}
	var exp types.Exposure
	if err := json.Unmarshal(data, &exp); err != nil {
		return types.Exposure{}, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return exp, true, nil
}

func (s *PostgresStore) SavePrefs(ctx context.Context, era types.EraIndex, validator types.Address, prefs types.ValidatorPrefs) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_prefs (era, validator, commission) VALUES ($1, $2, $3)
		ON CONFLICT (era, validator) DO UPDATE SET commission = $3
	`, era, validator[:], uint64(prefs.Commission))
	return err
}

func (s *PostgresStore) GetPrefs(ctx context.Context, era types.EraIndex, validator types.Address) (types.ValidatorPrefs, bool, error) {
	var commission uint64
	err := s.pool.QueryRow(ctx, `SELECT commission FROM era_prefs WHERE era = $1 AND validator = $2`, era, validator[:]).Scan(&commission)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ValidatorPrefs{}, false, nil
	}
	if err != nil {
		return types.ValidatorPrefs{}, false, err
	}
	return types.ValidatorPrefs{Commission: types.Perbill(commission)}, true, nil
}

func (s *PostgresStore) SaveTotalStake(ctx context.Context, era types.EraIndex, total uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_total_stake (era, total) VALUES ($1, $2)
		ON CONFLICT (era) DO UPDATE SET total = $2
	`, era, total)
	return err
}

func (s *PostgresStore) GetTotalStake(ctx context.Context, era types.EraIndex) (uint64, bool, error) {
	var total uint64
	err := s.pool.QueryRow(ctx, `SELECT total FROM era_total_stake WHERE era = $1`, era).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return total, err == nil, err
}

func (s *PostgresStore) SaveStartSessionIndex(ctx context.Context, era types.EraIndex, session types.SessionIndex) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_start_session (era, session) VALUES ($1, $2)
		ON CONFLICT (era) DO UPDATE SET session = $2
	`, era, session)
	return err
}

func (s *PostgresStore) GetStartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error) {
	var session uint32
	err := s.pool.QueryRow(ctx, `SELECT session FROM era_start_session WHERE era = $1`, era).Scan(&session)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return types.SessionIndex(session), err == nil, err
}

func (s *PostgresStore) DeleteErasStartSessionIndex(ctx context.Context, era types.EraIndex) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM era_start_session WHERE era = $1`, era)
	return err
}

// ClearEra bulk-deletes every era-scoped exposure and reward-point entry
// (spec.md §4.2 new_era step 2): exposures, clipped exposures, prefs,
// reward, points and total. The era_start_session row is left in place;
// the era engine removes it through DeleteErasStartSessionIndex. This single
// method satisfies both exposure.Store.ClearEra and
// era.PointsStore.ClearEra, which share the identical signature.
func (s *PostgresStore) ClearEra(ctx context.Context, era types.EraIndex) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tables := []string{"era_exposures", "era_prefs", "era_total_stake", "era_points", "era_validator_reward"}
	for _, table := range tables {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE era = $1`, table), era); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ============================================
// Era bookkeeping and reward points
// (spec.md §4.2/§4.5, internal/era.Store, internal/era.PointsStore)
// ============================================

func (s *PostgresStore) GetCurrentEra(ctx context.Context) (*types.EraIndex, error) {
	var era uint32
	err := s.pool.QueryRow(ctx, `SELECT current_era FROM era_bookkeeping WHERE id = 1`).Scan(&era)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := types.EraIndex(era)
	return &out, nil
}

func (s *PostgresStore) SaveCurrentEra(ctx context.Context, era types.EraIndex) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_bookkeeping (id, current_era) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET current_era = $1
	`, era)
	return err
}

func (s *PostgresStore) GetActiveEra(ctx context.Context) (types.ActiveEraInfo, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT active_era FROM era_bookkeeping WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || data == nil {
		return types.ActiveEraInfo{}, nil
	}
	if err != nil {
		return types.ActiveEraInfo{}, err
	}
	var info types.ActiveEraInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return types.ActiveEraInfo{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return info, nil
}

func (s *PostgresStore) SaveActiveEra(ctx context.Context, info types.ActiveEraInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO era_bookkeeping (id, active_era) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET active_era = $1
	`, data)
	return err
}

func (s *PostgresStore) GetForceEra(ctx context.Context) (era.ForceEra, error) {
	var policy int16
	err := s.pool.QueryRow(ctx, `SELECT force_era FROM era_bookkeeping WHERE id = 1`).Scan(&policy)
	if errors.Is(err, pgx.ErrNoRows) {
		return era.NotForcing, nil
	}
	return era.ForceEra(policy), err
}

func (s *PostgresStore) SaveForceEra(ctx context.Context, policy era.ForceEra) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_bookkeeping (id, force_era) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET force_era = $1
	`, int16(policy))
	return err
}

func (s *PostgresStore) GetIsCurrentSessionFinal(ctx context.Context) (bool, error) {
	var final bool
	err := s.pool.QueryRow(ctx, `SELECT is_current_session_final FROM era_bookkeeping WHERE id = 1`).Scan(&final)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return final, err
}

func (s *PostgresStore) SaveIsCurrentSessionFinal(ctx context.Context, final bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_bookkeeping (id, is_current_session_final) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET is_current_session_final = $1
	`, final)
	return err
}

func (s *PostgresStore) GetBondedEras(ctx context.Context) ([]types.BondedEra, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT bonded_eras FROM era_bookkeeping WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || data == nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var bonded []types.BondedEra
	if err := json.Unmarshal(data, &bonded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return bonded, nil
}

func (s *PostgresStore) SaveBondedEras(ctx context.Context, bonded []types.BondedEra) error {
	data, err := json.Marshal(bonded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO era_bookkeeping (id, bonded_eras) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET bonded_eras = $1
	`, data)
	return err
}

func (s *PostgresStore) GetPoints(ctx context.Context, era types.EraIndex) (*types.EraRewardPoints, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM era_points WHERE era = $1`, era).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	points := types.NewEraRewardPoints()
	if err := json.Unmarshal(data, points); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return points, nil
}

func (s *PostgresStore) SavePoints(ctx context.Context, era types.EraIndex, points *types.EraRewardPoints) error {
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO era_points (era, data) VALUES ($1, $2)
		ON CONFLICT (era) DO UPDATE SET data = $2
	`, era, data)
	return err
}

func (s *PostgresStore) SaveValidatorReward(ctx context.Context, era types.EraIndex, amount uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO era_validator_reward (era, amount) VALUES ($1, $2)
		ON CONFLICT (era) DO UPDATE SET amount = $2
	`, era, amount)
	return err
}

func (s *PostgresStore) GetValidatorReward(ctx context.Context, era types.EraIndex) (uint64, bool, error) {
	var amount uint64
	err := s.pool.QueryRow(ctx, `SELECT amount FROM era_validator_reward WHERE era = $1`, era).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return amount, err == nil, err
}

// ============================================
// Election (spec.md §4.3, internal/election.Store)
// ============================================

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *election.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO election_snapshot (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = $1
	`, data)
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context) (*election.Snapshot, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM election_snapshot WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap election.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &snap, true, nil
}

func (s *PostgresStore) EraseSnapshot(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM election_snapshot WHERE id = 1`)
	return err
}

type queuedResultRow struct {
	Result map[types.Address]types.Exposure `json:"result"`
	Score  election.Score                   `json:"score"`
	Mode   election.ComputeMode             `json:"mode"`
}

func (s *PostgresStore) SaveQueuedResult(ctx context.Context, result map[types.Address]types.Exposure, score election.Score, mode election.ComputeMode) error {
	data, err := json.Marshal(queuedResultRow{Result: result, Score: score, Mode: mode})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO election_queued (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = $1
	`, data)
	return err
}

func (s *PostgresStore) GetQueuedResult(ctx context.Context) (map[types.Address]types.Exposure, election.Score, election.ComputeMode, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM election_queued WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, election.Score{}, 0, false, nil
	}
	if err != nil {
		return nil, election.Score{}, 0, false, err
	}
	var row queuedResultRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, election.Score{}, 0, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return row.Result, row.Score, row.Mode, true, nil
}

func (s *PostgresStore) EraseQueuedResult(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM election_queued WHERE id = 1`)
	return err
}

// ============================================
// Slashing (spec.md §4.4, internal/slashing.Store)
// ============================================

func (s *PostgresStore) GetSpans(ctx context.Context, stash types.Address) (*slashing.SlashingSpans, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM slashing_spans WHERE stash = $1`, stash[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var spans slashing.SlashingSpans
	if err := json.Unmarshal(data, &spans); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &spans, true, nil
}

func (s *PostgresStore) SaveSpans(ctx context.Context, stash types.Address, spans *slashing.SlashingSpans) error {
	data, err := json.Marshal(spans)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO slashing_spans (stash, data) VALUES ($1, $2)
		ON CONFLICT (stash) DO UPDATE SET data = $2
	`, stash[:], data)
	return err
}

func (s *PostgresStore) DeleteSpans(ctx context.Context, stash types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM slashing_spans WHERE stash = $1`, stash[:])
	return err
}

func (s *PostgresStore) GetSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32) (slashing.SpanSlash, bool, error) {
	key := slashing.SpanKey(stash, spanIndex)
	var fraction uint64
	var paidOut uint64
	err := s.pool.QueryRow(ctx, `SELECT fraction, paid_out FROM span_slash WHERE key = $1`, key[:]).Scan(&fraction, &paidOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return slashing.SpanSlash{}, false, nil
	}
	if err != nil {
		return slashing.SpanSlash{}, false, err
	}
	return slashing.SpanSlash{Fraction: types.Perbill(fraction), PaidOut: paidOut}, true, nil
}

func (s *PostgresStore) SaveSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32, slash slashing.SpanSlash) error {
	key := slashing.SpanKey(stash, spanIndex)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO span_slash (key, stash, span_index, fraction, paid_out) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET fraction = $4, paid_out = $5
	`, key[:], stash[:], spanIndex, uint64(slash.Fraction), slash.PaidOut)
	return err
}

func (s *PostgresStore) GetValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (slashing.EraSlash, bool, error) {
	return s.getEraSlash(ctx, "validator_slash_in_era", era, stash)
}

func (s *PostgresStore) SaveValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash slashing.EraSlash) error {
	return s.saveEraSlash(ctx, "validator_slash_in_era", era, stash, slash)
}

func (s *PostgresStore) GetNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (slashing.EraSlash, bool, error) {
	return s.getEraSlash(ctx, "nominator_slash_in_era", era, stash)
}

func (s *PostgresStore) SaveNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash slashing.EraSlash) error {
	return s.saveEraSlash(ctx, "nominator_slash_in_era", era, stash, slash)
}

func (s *PostgresStore) getEraSlash(ctx context.Context, table string, era types.EraIndex, stash types.Address) (slashing.EraSlash, bool, error) {
	var fraction uint64
	var amount uint64
	query := fmt.Sprintf(`SELECT fraction, amount FROM %s WHERE era = $1 AND stash = $2`, table)
	err := s.pool.QueryRow(ctx, query, era, stash[:]).Scan(&fraction, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return slashing.EraSlash{}, false, nil
	}
	if err != nil {
		return slashing.EraSlash{}, false, err
	}
	return slashing.EraSlash{Fraction: types.Perbill(fraction), Amount: amount}, true, nil
}

func (s *PostgresStore) saveEraSlash(ctx context.Context, table string, era types.EraIndex, stash types.Address, slash slashing.EraSlash) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (era, stash, fraction, amount) VALUES ($1, $2, $3, $4)
		ON CONFLICT (era, stash) DO UPDATE SET fraction = $3, amount = $4
	`, table)
	_, err := s.pool.Exec(ctx, query, era, stash[:], uint64(slash.Fraction), slash.Amount)
	return err
}

func (s *PostgresStore) GetEarliestUnappliedSlash(ctx context.Context) (*types.EraIndex, error) {
	var era uint32
	err := s.pool.QueryRow(ctx, `SELECT era FROM earliest_unapplied_slash WHERE id = 1`).Scan(&era)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := types.EraIndex(era)
	return &out, nil
}

func (s *PostgresStore) SaveEarliestUnappliedSlash(ctx context.Context, era types.EraIndex) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO earliest_unapplied_slash (id, era) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET era = $1
	`, era)
	return err
}

func (s *PostgresStore) GetUnappliedSlashes(ctx context.Context, era types.EraIndex) ([]slashing.UnappliedSlash, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM unapplied_slashes WHERE era = $1`, era).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var slashes []slashing.UnappliedSlash
	if err := json.Unmarshal(data, &slashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return slashes, nil
}

func (s *PostgresStore) SaveUnappliedSlashes(ctx context.Context, era types.EraIndex, slashes []slashing.UnappliedSlash) error {
	data, err := json.Marshal(slashes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO unapplied_slashes (era, data) VALUES ($1, $2)
		ON CONFLICT (era) DO UPDATE SET data = $2
	`, era, data)
	return err
}

func (s *PostgresStore) DeleteUnappliedSlashes(ctx context.Context, era types.EraIndex) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM unapplied_slashes WHERE era = $1`, era)
	return err
}

// ============================================
// Registry (spec.md §6, internal/registry.Store)
// ============================================

func (s *PostgresStore) SaveValidatorPrefs(ctx context.Context, stash types.Address, prefs types.ValidatorPrefs) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO validator_prefs (stash, data) VALUES ($1, $2)
		ON CONFLICT (stash) DO UPDATE SET data = $2
	`, stash[:], data)
	return err
}

func (s *PostgresStore) GetValidatorPrefs(ctx context.Context, stash types.Address) (types.ValidatorPrefs, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM validator_prefs WHERE stash = $1`, stash[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ValidatorPrefs{}, false, nil
	}
	if err != nil {
		return types.ValidatorPrefs{}, false, err
	}
	var prefs types.ValidatorPrefs
	if err := json.Unmarshal(data, &prefs); err != nil {
		return types.ValidatorPrefs{}, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return prefs, true, nil
}

func (s *PostgresStore) DeleteValidatorPrefs(ctx context.Context, stash types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM validator_prefs WHERE stash = $1`, stash[:])
	return err
}

func (s *PostgresStore) ListValidators(ctx context.Context) ([]types.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT stash FROM validator_prefs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, types.AddressFromBytes(raw))
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveNominations(ctx context.Context, stash types.Address, nom types.Nominations) error {
	data, err := json.Marshal(nom)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO nominations (stash, data) VALUES ($1, $2)
		ON CONFLICT (stash) DO UPDATE SET data = $2
	`, stash[:], data)
	return err
}

func (s *PostgresStore) GetNominations(ctx context.Context, stash types.Address) (types.Nominations, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM nominations WHERE stash = $1`, stash[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Nominations{}, false, nil
	}
	if err != nil {
		return types.Nominations{}, false, err
	}
	var nom types.Nominations
	if err := json.Unmarshal(data, &nom); err != nil {
		return types.Nominations{}, false, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nom, true, nil
}

func (s *PostgresStore) DeleteNominations(ctx context.Context, stash types.Address) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM nominations WHERE stash = $1`, stash[:])
	return err
}

func (s *PostgresStore) ListNominators(ctx context.Context) ([]types.Address, error) {
	rows, err := s.pool.Query(ctx, `SELECT stash FROM nominations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Address
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, types.AddressFromBytes(raw))
	}
	return out, rows.Err()
}

// SaveInvulnerables and GetInvulnerables store the invulnerable set as
// a single JSONB row, since it is always read and replaced whole
// (spec.md §6 set_invulnerables).
func (s *PostgresStore) SaveInvulnerables(ctx context.Context, stashes []types.Address) error {
	raw := make([][]byte, len(stashes))
	for i, a := range stashes {
		raw[i] = a[:]
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO invulnerables (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = $1
	`, data)
	return err
}

func (s *PostgresStore) GetInvulnerables(ctx context.Context) ([]types.Address, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM invulnerables WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	out := make([]types.Address, len(raw))
	for i, b := range raw {
		out[i] = types.AddressFromBytes(b)
	}
	return out, nil
}
