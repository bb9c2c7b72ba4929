package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "anonchat/pkg/database"
	"anonchat/pkg/interfaces"
	"anonchat/pkg/privacy"
	"anonchat/pkg/types"
)

// timeLayout is fixed width so stored timestamps compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Manager implements interfaces.SessionStore on SQLite.
// Writes go through a single writer goroutine, so every mutation is
// serialized per store instance; reads use the connection pool.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	now          func() time.Time
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	initialized  bool
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer. Init must be
// called before the store is used.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("store"),
		now:          func() time.Time { return time.Now().UTC() },
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Init applies migrations, validates the schema and runs one expiry sweep
func (m *Manager) Init(ctx context.Context) error {
	migrations := dbconfig.NewMigrationManager(m.db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := dbconfig.NewSchemaValidator(m.db).Validate(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	if _, err := m.CleanupExpiredSessions(ctx); err != nil {
		return fmt.Errorf("initial session sweep failed: %w", err)
	}

	m.logger.Info("session store initialized", zap.String("path", m.config.DatabasePath))
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(op.ctx, m.db)
		case <-m.shutdown:
			return
		}
	}
}

// ready reports ErrNotInitialized or ErrStoreClosed
func (m *Manager) ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return interfaces.ErrStoreClosed
	}
	if !m.initialized {
		return interfaces.ErrNotInitialized
	}
	return nil
}

// executeWrite queues a write and waits for it to finish
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	if err := m.ready(); err != nil {
		return err
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	// Once queued the operation runs to completion; its own ctx bounds it.
	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// inTx runs fn inside a transaction committed only if fn succeeds
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateSession writes both reciprocal lookup rows and the metadata row
func (m *Manager) CreateSession(ctx context.Context, userA, userB int64, sessionID string) error {
	startedAt := formatTime(m.now())

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		return inTx(ctx, db, func(tx *sql.Tx) error {
			for _, pair := range [][2]int64{{userA, userB}, {userB, userA}} {
				_, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO sessions (user_id, partner_id, session_id, started_at) VALUES (?, ?, ?, ?)`,
					pair[0], pair[1], sessionID, startedAt,
				)
				if err != nil {
					return fmt.Errorf("failed to insert session row: %w", err)
				}
			}

			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO session_meta (session_id, user1, user2, started_at, ended_at) VALUES (?, ?, ?, ?, NULL)`,
				sessionID, userA, userB, startedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert session metadata: %w", err)
			}
			return nil
		})
	})
}

// GetSession returns the active session of user, or nil
func (m *Manager) GetSession(ctx context.Context, user int64) (*types.SessionRecord, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	var (
		record    = types.SessionRecord{UserID: user}
		startedAt string
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT partner_id, session_id, started_at FROM sessions WHERE user_id = ?`,
		user,
	).Scan(&record.PartnerID, &record.SessionID, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if record.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetSessionMeta returns the metadata row for sessionID, or nil
func (m *Manager) GetSessionMeta(ctx context.Context, sessionID string) (*types.Session, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	var (
		session   = types.Session{ID: sessionID}
		startedAt string
		endedAt   sql.NullString
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT user1, user2, started_at, ended_at FROM session_meta WHERE session_id = ?`,
		sessionID,
	).Scan(&session.UserA, &session.UserB, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session metadata: %w", err)
	}

	if session.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		ended, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		session.EndedAt = &ended
	}
	return &session, nil
}

// EndSession tears down the session user belongs to. Both lookup rows go
// immediately; the metadata row is kept with ended_at set until swept.
func (m *Manager) EndSession(ctx context.Context, user int64) (*types.SessionEnd, error) {
	var (
		sessionID string
		members   []int64
		found     bool
	)
	endedAt := formatTime(m.now())

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		return inTx(ctx, db, func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx,
				`SELECT session_id FROM sessions WHERE user_id = ?`, user,
			).Scan(&sessionID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to resolve session: %w", err)
			}
			found = true

			rows, err := tx.QueryContext(ctx,
				`SELECT user_id FROM sessions WHERE session_id = ? ORDER BY rowid`, sessionID,
			)
			if err != nil {
				return fmt.Errorf("failed to query session members: %w", err)
			}
			for rows.Next() {
				var member int64
				if err := rows.Scan(&member); err != nil {
					_ = rows.Close()
					return fmt.Errorf("failed to scan session member: %w", err)
				}
				members = append(members, member)
			}
			if err := rows.Close(); err != nil {
				return err
			}
			if err := rows.Err(); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("failed to delete session rows: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE session_meta SET ended_at = ? WHERE session_id = ?`, endedAt, sessionID,
			); err != nil {
				return fmt.Errorf("failed to stamp session end: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	if len(members) != 2 {
		m.logger.Warn("session has unexpected member count",
			zap.String("session_id", sessionID),
			zap.Int("members", len(members)),
		)
	}

	end := &types.SessionEnd{SessionID: sessionID}
	switch len(members) {
	case 0:
		end.Users = [2]int64{user, user}
	case 1:
		end.Users = [2]int64{members[0], user}
	default:
		end.Users = [2]int64{members[0], members[1]}
	}
	return end, nil
}

// IsBlocked is an exact directional lookup
func (m *Manager) IsBlocked(ctx context.Context, blocker, blocked int64) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}

	var one int
	err := m.db.QueryRowContext(ctx,
		`SELECT 1 FROM blocked_pairs WHERE blocker = ? AND blocked = ?`, blocker, blocked,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query block: %w", err)
	}
	return true, nil
}

// AddBlock stores the relation in both directions
func (m *Manager) AddBlock(ctx context.Context, a, b int64) error {
	createdAt := formatTime(m.now())

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		return inTx(ctx, db, func(tx *sql.Tx) error {
			for _, pair := range [][2]int64{{a, b}, {b, a}} {
				_, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO blocked_pairs (blocker, blocked, created_at) VALUES (?, ?, ?)`,
					pair[0], pair[1], createdAt,
				)
				if err != nil {
					return fmt.Errorf("failed to insert block: %w", err)
				}
			}
			return nil
		})
	})
}

// AddReport appends a report. With masking on, raw ids never reach the table.
func (m *Manager) AddReport(ctx context.Context, sessionID string, reporter, reported int64) error {
	reporterID, reportedID := m.reportIdentity(reporter), m.reportIdentity(reported)
	createdAt := formatTime(m.now())

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO reports (session_id, reporter, reported, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, reporterID, reportedID, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}
		return nil
	})
}

func (m *Manager) reportIdentity(user int64) string {
	if m.config.MaskReports {
		return privacy.MaskUserID(user, m.config.MaskSalt)
	}
	return strconv.FormatInt(user, 10)
}

// ListReports returns every report for sessionID, oldest first
func (m *Manager) ListReports(ctx context.Context, sessionID string) ([]*types.Report, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_id, reporter, reported, created_at FROM reports WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*types.Report
	for rows.Next() {
		var (
			report    types.Report
			createdAt string
		)
		if err := rows.Scan(&report.ID, &report.SessionID, &report.Reporter, &report.Reported, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		if report.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		reports = append(reports, &report)
	}
	return reports, rows.Err()
}

// CleanupExpiredSessions deletes ended metadata rows older than the TTL.
// Active rows (ended_at NULL) are never touched.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	if m.config.SessionTTL <= 0 {
		return 0, nil
	}
	cutoff := formatTime(m.now().Add(-m.config.SessionTTL))

	var removed int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`DELETE FROM session_meta WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff,
		)
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		m.logger.Debug("expired sessions swept", zap.Int64("removed", removed))
	}
	return removed, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}


// Close stops the writer and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
