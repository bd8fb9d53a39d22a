package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/circuitbreaker"
)

// Config holds sqlite intent-log configuration.
type Config struct {
	Path            string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Client manages the sqlite intent log connection and an async write
// queue, carried over from the donor's task-execution writer pattern
// but trimmed to the two row kinds APEX persists (§6, §12).
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	sqlx   *sqlx.DB
	logger *zap.Logger
	config *Config

	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// WriteRequest represents an async write operation.
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeIntentLog WriteType = iota
	WriteTypeDecisionRecord
)

func (wt WriteType) String() string {
	switch wt {
	case WriteTypeIntentLog:
		return "IntentLog"
	case WriteTypeDecisionRecord:
		return "DecisionRecord"
	default:
		return "Unknown"
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS intent_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	topology TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	dropped TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	step INTEGER NOT NULL,
	topology_before TEXT NOT NULL,
	action TEXT NOT NULL,
	epsilon REAL NOT NULL,
	switch_attempted INTEGER NOT NULL,
	switch_committed INTEGER NOT NULL,
	epoch INTEGER NOT NULL,
	features TEXT,
	created_at DATETIME NOT NULL
);
`

// NewClient opens the sqlite intent log and starts the async writers.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 4
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 2
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 30 * time.Minute
	}
	if config.Path == "" {
		config.Path = "apex-intent-log.db"
	}

	rawDB, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open intent log: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	if _, err := rawDB.Exec(schema); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to migrate intent log schema: %w", err)
	}

	wrapped := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping intent log: %w", err)
	}

	client := &Client{
		db:         wrapped,
		sqlx:       sqlx.NewDb(rawDB, "sqlite3"),
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, 1000),
		workers:    2,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()

	logger.Info("intent log client initialized", zap.String("path", config.Path), zap.Int("workers", client.workers))
	return client, nil
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.workerWg.Done()
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	var err error
	switch req.Type {
	case WriteTypeIntentLog:
		if e, ok := req.Data.(*IntentLogEntry); ok {
			err = c.SaveIntentLogEntry(context.Background(), e)
		}
	case WriteTypeDecisionRecord:
		if r, ok := req.Data.(*DecisionRecordRow); ok {
			err = c.SaveDecisionRecord(context.Background(), r)
		}
	}
	if req.Callback != nil {
		req.Callback(err)
	}
	if err != nil {
		c.logger.Error("intent log write failed", zap.String("type", req.Type.String()), zap.Error(err))
	}
}

func (c *Client) drainQueue() {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			return
		default:
			return
		}
	}
}

// QueueWrite enqueues a write, falling back to synchronous execution if
// the queue is full — the intent log must never silently drop a row.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) {
	select {
	case c.writeQueue <- WriteRequest{Type: writeType, Data: data, Callback: callback}:
	default:
		c.logger.Warn("intent log write queue full, writing synchronously", zap.String("type", writeType.String()))
		c.processWrite(WriteRequest{Type: writeType, Data: data, Callback: callback})
	}
}

// Close drains the write queue and closes the database.
func (c *Client) Close() error {
	close(c.stopCh)
	c.workerWg.Wait()
	return c.db.Close()
}

// GetDB returns the underlying *sql.DB for direct queries.
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// Wrapper returns the circuit-breaker-wrapped database handle, for
// health checkers that need to observe breaker state directly.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
