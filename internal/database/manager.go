package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	dbconfig "dropline/pkg/database"
	"dropline/pkg/interfaces"
	"dropline/pkg/types"
)

var (
	ErrManagerClosed   = errors.New("database manager is closed")
	ErrManagerShutdown = errors.New("database manager is shutting down")
	ErrWriteTimeout    = errors.New("write operation timeout")
)

const (
	writeQueueSize   = 100
	writeRetryDelay  = 5 * time.Second
	writeWaitTimeout = 30 * time.Second
	defaultListLimit = 50
	maximumListLimit = 500
)

// Manager implements interfaces.TransferStore on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       logrus.FieldLogger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the history database, applies migrations and starts the writer
func NewManager(config *dbconfig.Config, logger logrus.FieldLogger) (*Manager, error) {
	return newManager(config, logger, writeRetryDelay)
}

func newManager(config *dbconfig.Config, logger logrus.FieldLogger, retryDelay time.Duration) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.WithField("component", "history"),
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		retryDelay:   retryDelay,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once
			err := op.operation(m.db)
			if err != nil {
				m.logger.WithError(err).Warnf("Database write failed, retrying in %s", m.retryDelay)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.WithError(err).Error("Database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(writeWaitTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerShutdown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerShutdown
	}
}

// RecordRoomCreated inserts the initial history row for a room
func (m *Manager) RecordRoomCreated(ctx context.Context, record *types.TransferRecord) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO transfers (room_id, sender_id, file_name, file_size, file_type,
				total_chunks, mode, recipients, chunks_relayed, outcome, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.RoomID,
			record.SenderID,
			record.FileName,
			record.FileSize,
			record.FileType,
			record.TotalChunks,
			string(record.Mode),
			record.Recipients,
			record.ChunksRelayed,
			string(record.Outcome),
			record.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
		return nil
	})
}

// RecordRoomClosed stamps the outcome on the newest active row for the room
// TECHNICAL DISCOVERY: Room ids may be reused once a room closes, so the update
// targets the latest still-active row only
func (m *Manager) RecordRoomClosed(ctx context.Context, closed *types.TransferClose) error {
	var affected int64
	err := m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE transfers
			SET outcome = ?, recipients = ?, chunks_relayed = ?, ended_at = ?
			WHERE id = (
				SELECT id FROM transfers
				WHERE room_id = ? AND outcome = 'active'
				ORDER BY id DESC LIMIT 1
			)
		`
		res, err := db.ExecContext(ctx, query,
			string(closed.Outcome),
			closed.Recipients,
			closed.ChunksRelayed,
			closed.EndedAt.UTC(),
			closed.RoomID,
		)
		if err != nil {
			return fmt.Errorf("failed to close transfer: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrTransferNotFound
	}
	return nil
}

// CloseStaleTransfers cancels rows left active by a previous process
func (m *Manager) CloseStaleTransfers(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := m.executeWrite(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE transfers SET outcome = 'cancelled', ended_at = ? WHERE outcome = 'active'`,
			now.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to cancel stale transfers: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

const selectTransfer = `
	SELECT room_id, sender_id, file_name, file_size, file_type, total_chunks, mode,
		recipients, chunks_relayed, outcome, created_at, ended_at
	FROM transfers
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*types.TransferRecord, error) {
	var (
		record  types.TransferRecord
		mode    string
		outcome string
		endedAt sql.NullTime
	)
	err := row.Scan(
		&record.RoomID,
		&record.SenderID,
		&record.FileName,
		&record.FileSize,
		&record.FileType,
		&record.TotalChunks,
		&mode,
		&record.Recipients,
		&record.ChunksRelayed,
		&outcome,
		&record.CreatedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Mode = types.DataPath(mode)
	record.Outcome = types.TransferOutcome(outcome)
	if endedAt.Valid {
		t := endedAt.Time
		record.EndedAt = &t
	}
	return &record, nil
}

// ListTransfers returns the most recent transfers, newest first
func (m *Manager) ListTransfers(ctx context.Context, limit int) ([]*types.TransferRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maximumListLimit {
		limit = maximumListLimit
	}

	// ARCHITECTURAL DISCOVERY: Reads bypass the writer and run on the pool
	rows, err := m.db.QueryContext(ctx, selectTransfer+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*types.TransferRecord, 0)
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return records, nil
}

// GetTransfer returns the newest record for a room id
func (m *Manager) GetTransfer(ctx context.Context, roomID string) (*types.TransferRecord, error) {
	row := m.db.QueryRowContext(ctx, selectTransfer+" WHERE room_id = ? ORDER BY id DESC LIMIT 1", roomID)
	record, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to query transfer: %w", err)
	}
	return record, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transfers").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying pool
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool
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

var _ interfaces.TransferStore = (*Manager)(nil)
