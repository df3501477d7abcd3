/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.InstallmentStore, engine.RewardStore,
  engine.AuditStore, and auth.IdentityStore using database/sql. The
  same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

COMPARE-AND-SET:
  Installment state changes are conditional UPDATEs guarded by the
  expected prior state; RowsAffected == 0 means another writer got
  there first and surfaces as engine.ErrConcurrentModification.
  Creation is an INSERT whose primary key race is classified the same
  way. This is the storage half of the "two concurrent approvals,
  exactly one wins" guarantee.

UNIQUENESS:
  installments: PRIMARY KEY (user_id, number) - at most one row per pair
  rewards:      UNIQUE (user_id, number) - one reward per validated pair
  users:        UNIQUE dni, UNIQUE email
  audit_log:    append-only; this package has no UPDATE or DELETE on it

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/promo.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions and CAS contract
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/engine"
)

// Compile-time checks: *Store must satisfy every storage interface.
var (
	_ engine.InstallmentStore = (*Store)(nil)
	_ engine.RewardStore      = (*Store)(nil)
	_ engine.AuditStore       = (*Store)(nil)
	_ auth.IdentityStore      = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers anyway, and ":memory:" databases are
	// per-connection, so the pool must stay at one.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	zap.L().Info("sqlite store ready", zap.String("path", dbPath))
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Installments: one row per (user, number), ever.
	CREATE TABLE IF NOT EXISTS installments (
		user_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		state TEXT NOT NULL,
		receipt_ref TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		submitted_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT,
		rejection_reason TEXT,
		PRIMARY KEY (user_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_installments_state
		ON installments(state, submitted_at);

	-- Rewards: exactly one per validated (user, number).
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_user
		ON rewards(user_id, number);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT,
		action TEXT NOT NULL,
		user_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_at
		ON audit_log(at);

	-- Users (clients)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		dni TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		name TEXT NOT NULL,
		surname TEXT,
		phone TEXT,
		plan TEXT,
		address TEXT,
		locality TEXT,
		postal_code TEXT,
		created_at TEXT NOT NULL
	);

	-- Admin actors (provisioned out of band)
	CREATE TABLE IF NOT EXISTS admin_actors (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		name TEXT,
		role TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// INSTALLMENT STORE (engine.InstallmentStore interface)
// =============================================================================

const installmentColumns = `user_id, number, state, receipt_ref, amount,
	submitted_at, decided_at, decided_by, rejection_reason`

// GetInstallment returns the record, or nil when absent.
func (s *Store) GetInstallment(ctx context.Context, userID string, number int) (*engine.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE user_id = ? AND number = ?
	`, userID, number)

	inst, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load installment: %w", err)
	}
	return inst, nil
}

// PutInstallment writes inst guarded by the expected prior state.
func (s *Store) PutInstallment(ctx context.Context, inst engine.Installment, expected *engine.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expected == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO installments
			(user_id, number, state, receipt_ref, amount, submitted_at, decided_at, decided_by, rejection_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inst.UserID,
			inst.Number,
			string(inst.State),
			inst.ReceiptRef,
			inst.Amount.String(),
			inst.SubmittedAt.UTC().Format(time.RFC3339Nano),
			nullTime(inst.DecidedAt),
			nullStringPtr(inst.DecidedBy),
			nullStringPtr(inst.RejectionReason),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return engine.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert installment: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE installments
		SET state = ?, receipt_ref = ?, amount = ?, submitted_at = ?,
		    decided_at = ?, decided_by = ?, rejection_reason = ?
		WHERE user_id = ? AND number = ? AND state = ?
	`,
		string(inst.State),
		inst.ReceiptRef,
		inst.Amount.String(),
		inst.SubmittedAt.UTC().Format(time.RFC3339Nano),
		nullTime(inst.DecidedAt),
		nullStringPtr(inst.DecidedBy),
		nullStringPtr(inst.RejectionReason),
		inst.UserID,
		inst.Number,
		string(*expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer changed the state.
		return engine.ErrConcurrentModification
	}
	return nil
}

// ListInstallmentsByUser returns a user's installments ordered by number.
func (s *Store) ListInstallmentsByUser(ctx context.Context, userID string) ([]engine.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE user_id = ?
		ORDER BY number ASC
	`, userID)
}

// ListInstallmentsByState returns all installments in a state, oldest first.
func (s *Store) ListInstallmentsByState(ctx context.Context, state engine.State) ([]engine.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE state = ?
		ORDER BY submitted_at ASC, user_id ASC, number ASC
	`, string(state))
}

// CountInstallmentsByState returns per-state totals.
func (s *Store) CountInstallmentsByState(ctx context.Context) (map[engine.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM installments GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count installments: %w", err)
	}
	defer rows.Close()

	counts := make(map[engine.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[engine.State(state)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryInstallments(ctx context.Context, query string, args ...any) ([]engine.Installment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var result []engine.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inst)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstallment(row scanner) (*engine.Installment, error) {
	var (
		inst        engine.Installment
		state       string
		amount      string
		submittedAt string
		decidedAt   sql.NullString
		decidedBy   sql.NullString
		reason      sql.NullString
	)
	err := row.Scan(&inst.UserID, &inst.Number, &state, &inst.ReceiptRef,
		&amount, &submittedAt, &decidedAt, &decidedBy, &reason)
	if err != nil {
		return nil, err
	}

	inst.State = engine.State(state)
	inst.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	inst.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt submitted_at %q: %w", submittedAt, err)
	}
	if decidedAt.Valid {
		t, terr := time.Parse(time.RFC3339Nano, decidedAt.String)
		if terr != nil {
			return nil, fmt.Errorf("corrupt decided_at %q: %w", decidedAt.String, terr)
		}
		inst.DecidedAt = &t
	}
	if decidedBy.Valid {
		v := decidedBy.String
		inst.DecidedBy = &v
	}
	if reason.Valid {
		v := reason.String
		inst.RejectionReason = &v
	}
	return &inst, nil
}

// =============================================================================
// REWARD STORE (engine.RewardStore interface)
// =============================================================================

// GetReward returns the reward, or nil when absent.
func (s *Store) GetReward(ctx context.Context, userID string, number int) (*engine.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, number, status, created_at, updated_at
		FROM rewards
		WHERE user_id = ? AND number = ?
	`, userID, number)

	r, err := scanReward(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reward: %w", err)
	}
	return r, nil
}

// CreateReward inserts a new reward; the UNIQUE(user_id, number) index
// makes a duplicate insert lose the race.
func (s *Store) CreateReward(ctx context.Context, r engine.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (id, user_id, number, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.UserID,
		r.Number,
		string(r.Status),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

// UpdateRewardStatus advances a reward, guarded by the expected status.
func (s *Store) UpdateRewardStatus(ctx context.Context, userID string, number int, from, to engine.RewardStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE rewards
		SET status = ?, updated_at = ?
		WHERE user_id = ? AND number = ? AND status = ?
	`, string(to), at.UTC().Format(time.RFC3339Nano), userID, number, string(from))
	if err != nil {
		return fmt.Errorf("failed to update reward: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return engine.ErrConcurrentModification
	}
	return nil
}

// ListRewardsByUser returns a user's rewards ordered by number.
func (s *Store) ListRewardsByUser(ctx context.Context, userID string) ([]engine.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, number, status, created_at, updated_at
		FROM rewards
		WHERE user_id = ?
		ORDER BY number ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var result []engine.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// CountRewards returns the total number of rewards.
func (s *Store) CountRewards(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rewards`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rewards: %w", err)
	}
	return n, nil
}

func scanReward(row scanner) (*engine.Reward, error) {
	var (
		r         engine.Reward
		status    string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Number, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Status = engine.RewardStatus(status)

	var err error
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at %q: %w", updatedAt, err)
	}
	return &r, nil
}

// =============================================================================
// AUDIT STORE (engine.AuditStore interface)
// =============================================================================

// AppendAudit inserts one audit entry. Append-only.
func (s *Store) AppendAudit(ctx context.Context, e engine.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, user_id, number, outcome, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		nullStringPtr(e.ActorID),
		string(e.Action),
		e.UserID,
		e.Number,
		e.Outcome,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditByActor returns entries for one actor, chronologically.
func (s *Store) ListAuditByActor(ctx context.Context, actorID string) ([]engine.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAudit(ctx, `
		SELECT id, actor_id, action, user_id, number, outcome, at
		FROM audit_log
		WHERE actor_id = ?
		ORDER BY at ASC
	`, actorID)
}

// ListAuditByDateRange returns entries with At in [from, to].
func (s *Store) ListAuditByDateRange(ctx context.Context, from, to time.Time) ([]engine.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAudit(ctx, `
		SELECT id, actor_id, action, user_id, number, outcome, at
		FROM audit_log
		WHERE at >= ? AND at <= ?
		ORDER BY at ASC
	`, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]engine.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []engine.AuditEntry
	for rows.Next() {
		var (
			e       engine.AuditEntry
			actorID sql.NullString
			action  string
			at      string
		)
		if err := rows.Scan(&e.ID, &actorID, &action, &e.UserID, &e.Number, &e.Outcome, &at); err != nil {
			return nil, err
		}
		if actorID.Valid {
			v := actorID.String
			e.ActorID = &v
		}
		e.Action = engine.AuditAction(action)
		parsed, terr := time.Parse(time.RFC3339Nano, at)
		if terr != nil {
			return nil, fmt.Errorf("corrupt audit timestamp %q: %w", at, terr)
		}
		e.At = parsed
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// IDENTITY STORE (auth.IdentityStore interface)
// =============================================================================

const userColumns = `id, dni, email, password_hash, name, surname, phone,
	plan, address, locality, postal_code, created_at`

// CreateUser inserts a user; duplicate dni or email is a Conflict.
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, dni, email, password_hash, name, surname, phone,
			plan, address, locality, postal_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID, u.DNI, u.Email, u.PasswordHash, u.Name, u.Surname, u.Phone,
		u.Plan, u.Address, u.Locality, u.PostalCode,
		u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: dni or email already registered", engine.ErrConflict)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user, or nil when absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = ?
	`, email)
	return scanUserOrNil(row)
}

// GetUserByID returns the user, or nil when absent.
func (s *Store) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = ?
	`, id)
	return scanUserOrNil(row)
}

// ListUsers returns all users, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

// CountUsers returns the total number of registered clients.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// SaveAdmin upserts an admin actor by username.
func (s *Store) SaveAdmin(ctx context.Context, a auth.AdminActor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_actors (id, username, password_hash, name, role)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			name = excluded.name,
			role = excluded.role
	`, a.ID, a.Username, a.PasswordHash, a.Name, string(a.Role))
	if err != nil {
		return fmt.Errorf("failed to save admin actor: %w", err)
	}
	return nil
}

// GetAdminByUsername returns the actor, or nil when absent.
func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*auth.AdminActor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a    auth.AdminActor
		role string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, name, role
		FROM admin_actors WHERE username = ?
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Name, &role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin actor: %w", err)
	}
	a.Role = engine.Role(role)
	return &a, nil
}

func scanUserOrNil(row scanner) (*auth.User, error) {
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		u         auth.User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.DNI, &u.Email, &u.PasswordHash, &u.Name,
		&u.Surname, &u.Phone, &u.Plan, &u.Address, &u.Locality,
		&u.PostalCode, &createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	return &u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
