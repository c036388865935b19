// Package jdbc implements the database adapter pair. The sender turns the
// rows of a select into a JSON array; the receiver executes a named
// statement once per JSON record inside one transaction.
package jdbc

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Opener opens a connection pool; tests substitute a mock
type Opener func(driverName, dsn string) (*sqlx.DB, error)

type pool struct {
	conn Connection
	open Opener
	db   *sqlx.DB
}

func (p *pool) connect(ctx context.Context) error {
	db, err := p.open(p.conn.driver(), p.conn.ConnString())
	if err != nil {
		return fmt.Errorf("open %s: %w", p.conn.driver(), err)
	}
	if p.conn.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.conn.MaxOpenConns)
	}
	if p.conn.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.conn.MaxIdleConns)
	}
	if p.conn.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.conn.ConnMaxLifetime.Duration())
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return classify(fmt.Errorf("ping database: %w", err))
	}
	p.db = db
	return nil
}

func (p *pool) close(context.Context) error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

func (p *pool) test(ctx context.Context) error {
	var one int
	if err := p.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return classify(fmt.Errorf("health query: %w", err))
	}
	return nil
}

// classify maps driver errors onto the error taxonomy by SQLSTATE class
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
		case "22", "23", "42":
			return fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return err
}

// Sender polls SenderConfig.Query
type Sender struct {
	*adapter.Base
	cfg  *SenderConfig
	pool *pool
}

// NewSender creates a JDBC sender. A nil open uses sqlx.Open.
func NewSender(cfg *SenderConfig, open Opener, deps adapter.Dependencies) *Sender {
	if open == nil {
		open = sqlx.Open
	}
	s := &Sender{cfg: cfg, pool: &pool{conn: cfg.Connection, open: open}}
	s.Base = adapter.NewBase(adapter.TypeJDBC, adapter.ModeSender, deps, adapter.Hooks{
		Connect:    s.pool.connect,
		Disconnect: s.pool.close,
		Test:       s.pool.test,
	})
	return s
}

// Receive runs the query and returns its rows as a JSON array of objects.
// No rows is ErrNoMessage.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout())
	defer cancel()

	records, err := s.fetch(ctx)
	if err != nil {
		return nil, s.Observe("receive", start, 0, classify(err))
	}
	if len(records) == 0 {
		return nil, s.Observe("receive", start, 0, errors.ErrNoMessage)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, s.Observe("receive", start, 0, fmt.Errorf("%w: encode rows: %v", errors.ErrInvalidData, err))
	}

	msg := adapter.NewMessage(data, "application/json", "jdbc:"+s.cfg.driver())
	msg.Headers["row_count"] = strconv.Itoa(len(records))
	if s.cfg.UpdateQuery != "" {
		msg.WithAck(func(ctx context.Context) error { return s.markProcessed(ctx, records) })
	}
	return msg, s.Observe("receive", start, len(data), nil)
}

func (s *Sender) fetch(ctx context.Context) ([]map[string]any, error) {
	var rows *sqlx.Rows
	var err error
	if len(s.cfg.Parameters) > 0 {
		rows, err = sqlx.NamedQueryContext(ctx, s.pool.db, s.cfg.Query, s.cfg.Parameters)
	} else {
		rows, err = s.pool.db.QueryxContext(ctx, s.cfg.Query)
	}
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		records = append(records, row)
		if s.cfg.MaxRows > 0 && len(records) >= s.cfg.MaxRows {
			break
		}
	}
	return records, rows.Err()
}

func (s *Sender) markProcessed(ctx context.Context, records []map[string]any) error {
	tx, err := s.pool.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.Fail("ack", classify(err))
	}
	for _, rec := range records {
		if _, err := tx.NamedExecContext(ctx, s.cfg.UpdateQuery, rec); err != nil {
			_ = tx.Rollback()
			return s.Fail("ack", classify(fmt.Errorf("update_query: %w", err)))
		}
	}
	if err := tx.Commit(); err != nil {
		return s.Fail("ack", classify(err))
	}
	return nil
}

// Receiver writes JSON records with ReceiverConfig.Statement
type Receiver struct {
	*adapter.Base
	cfg  *ReceiverConfig
	pool *pool
}

// NewReceiver creates a JDBC receiver. A nil open uses sqlx.Open.
func NewReceiver(cfg *ReceiverConfig, open Opener, deps adapter.Dependencies) *Receiver {
	if open == nil {
		open = sqlx.Open
	}
	r := &Receiver{cfg: cfg, pool: &pool{conn: cfg.Connection, open: open}}
	r.Base = adapter.NewBase(adapter.TypeJDBC, adapter.ModeReceiver, deps, adapter.Hooks{
		Connect:    r.pool.connect,
		Disconnect: r.pool.close,
		Test:       r.pool.test,
	})
	return r
}

// Send writes every record of msg in one transaction
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	records, err := r.records(msg.Payload)
	if err != nil {
		return nil, r.Observe("send", start, 0, err)
	}
	affected, err := r.write(ctx, records)
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   fmt.Sprintf("%d records written", len(records)),
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"records": len(records), "rows_affected": affected},
	}, nil
}

// SendBatch writes all messages in a single transaction. One bad record
// rolls back the whole batch.
func (r *Receiver) SendBatch(ctx context.Context, msgs []*adapter.Message) (*adapter.BatchResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	start := time.Now()

	var all []map[string]any
	size := 0
	for _, msg := range msgs {
		if err := r.CheckMessage(msg); err != nil {
			return nil, err
		}
		records, err := r.records(msg.Payload)
		if err != nil {
			return nil, r.Observe("send", start, 0, err)
		}
		all = append(all, records...)
		size += len(msg.Payload)
	}

	result := &adapter.BatchResult{Results: make([]*adapter.SendResult, 0, len(msgs))}
	_, err := r.write(ctx, all)
	for _, msg := range msgs {
		res := &adapter.SendResult{Success: err == nil, BytesSent: len(msg.Payload)}
		if err != nil {
			res.BytesSent = 0
			res.Message = err.Error()
		}
		result.Results = append(result.Results, res)
	}
	if err := r.Observe("send", start, size, err); err != nil {
		r.Logger().Warn("Batch rolled back", "messages", len(msgs), "error", err)
	}
	return adapter.Summarize(result), nil
}

// records decodes a JSON object or array of objects. Nested values are
// stored as JSON text.
func (r *Receiver) records(data []byte) ([]map[string]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: payload is not JSON", errors.ErrInvalidData)
	}
	doc := gjson.ParseBytes(data)
	if r.cfg.RecordsPath != "" {
		doc = doc.Get(r.cfg.RecordsPath)
		if !doc.Exists() {
			return nil, fmt.Errorf("%w: records_path %q not found", errors.ErrInvalidData, r.cfg.RecordsPath)
		}
	}

	var items []gjson.Result
	switch {
	case doc.IsArray():
		items = doc.Array()
	case doc.IsObject():
		items = []gjson.Result{doc}
	default:
		return nil, fmt.Errorf("%w: expected a JSON object or array of objects", errors.ErrInvalidData)
	}

	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: record %d is not an object", errors.ErrInvalidData, i)
		}
		rec := map[string]any{}
		item.ForEach(func(key, value gjson.Result) bool {
			rec[key.String()] = columnValue(value)
			return true
		})
		out = append(out, rec)
	}
	return out, nil
}

func columnValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.True, gjson.False:
		return v.Bool()
	case gjson.Number:
		if i, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
			return i
		}
		return v.Float()
	case gjson.String:
		return v.String()
	default:
		return v.Raw
	}
}

func (r *Receiver) write(ctx context.Context, records []map[string]any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.queryTimeout())
	defer cancel()

	tx, err := r.pool.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("begin: %w", err))
	}
	var affected int64
	for i, rec := range records {
		res, err := tx.NamedExecContext(ctx, r.cfg.Statement, rec)
		if err != nil {
			_ = tx.Rollback()
			return 0, classify(fmt.Errorf("record %d: %w", i, err))
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("commit: %w", err))
	}
	return affected, nil
}

// Register adds the JDBC sender and receiver to f
func Register(f *adapter.DefaultFactory) error {
	if err := f.Register(adapter.Registration{
		Type:        adapter.TypeJDBC,
		Mode:        adapter.ModeSender,
		Description: "Polls a select query and delivers the rows as a JSON array",
		NewConfig:   func() adapter.Config { return &SenderConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewSender(cfg.(*SenderConfig), nil, deps), nil
		},
	}); err != nil {
		return err
	}
	return f.Register(adapter.Registration{
		Type:        adapter.TypeJDBC,
		Mode:        adapter.ModeReceiver,
		Description: "Executes a named statement for each JSON record in one transaction",
		NewConfig:   func() adapter.Config { return &ReceiverConfig{} },
		Construct: func(cfg adapter.Config, deps adapter.Dependencies) (adapter.Adapter, error) {
			return NewReceiver(cfg.(*ReceiverConfig), nil, deps), nil
		},
	})
}
