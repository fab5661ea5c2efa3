// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while keeping every entity in its own relational table.
package postgres

import (
	"bufio"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"warrantycore/internal/infra/persistence/memory"
	"warrantycore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/warrantycore?sslmode=disable"
)

//go:embed schema.sql
var schemaDDL string

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
// Each committed change is upserted into its table inside one SQL transaction
// before the in-memory state is swapped.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the schema DDL and hydrates the in-memory store from the tables.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyDDLStatements(ctx, db, schemaDDL); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	s := &Store{Store: mem, db: db}
	mem.OnCommit(s.persist)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyDDLStatements(ctx context.Context, db execer, ddl string) error {
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// splitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func splitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}

const upsertProduct = `INSERT INTO products (id, imei, name, model, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, model=EXCLUDED.model, updated_at=EXCLUDED.updated_at`

const upsertWarranty = `INSERT INTO warranties (id, product_imei, start_date, end_date, terms, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date, terms=EXCLUDED.terms, updated_at=EXCLUDED.updated_at`

const upsertRequest = `INSERT INTO service_requests (id, seq, customer_id, product_imei, issue_description, status, warranty_decision, decision_reason, current_logistics_order_id, current_repair_id, history, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, warranty_decision=EXCLUDED.warranty_decision, decision_reason=EXCLUDED.decision_reason, current_logistics_order_id=EXCLUDED.current_logistics_order_id, current_repair_id=EXCLUDED.current_repair_id, history=EXCLUDED.history, updated_at=EXCLUDED.updated_at`

const upsertLogistics = `INSERT INTO logistics_orders (id, seq, request_id, type, status, agent_id, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, agent_id=EXCLUDED.agent_id, updated_at=EXCLUDED.updated_at`

const upsertRepair = `INSERT INTO repairs (id, seq, request_id, status, technician_id, notes, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, technician_id=EXCLUDED.technician_id, notes=EXCLUDED.notes, updated_at=EXCLUDED.updated_at`

func (s *Store) persist(ctx context.Context, _ memory.Snapshot, changes []domain.Change) error {
	return persistChanges(ctx, s.db, changes)
}

func persistChanges(ctx context.Context, db *sql.DB, changes []domain.Change) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, change := range changes {
		if err := upsertChange(ctx, tx, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func upsertChange(ctx context.Context, tx execer, change domain.Change) error {
	var (
		query string
		args  []any
	)
	switch v := change.After.(type) {
	case domain.Product:
		query = upsertProduct
		args = []any{v.ID, v.IMEI, v.Name, v.Model, v.CreatedAt, v.UpdatedAt}
	case domain.Warranty:
		query = upsertWarranty
		args = []any{v.ID, v.ProductIMEI, v.StartDate, v.EndDate, v.Terms, v.CreatedAt, v.UpdatedAt}
	case domain.ServiceRequest:
		history, err := json.Marshal(v.History)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		query = upsertRequest
		args = []any{
			v.ID, v.Seq, v.CustomerID, v.ProductIMEI, v.IssueDescription, string(v.Status),
			string(v.Decision), v.DecisionReason, nullString(v.CurrentLogisticsOrderID),
			nullString(v.CurrentRepairID), string(history), v.CreatedAt, v.UpdatedAt,
		}
	case domain.LogisticsOrder:
		query = upsertLogistics
		args = []any{v.ID, v.Seq, v.RequestID, string(v.Type), string(v.Status), nullString(v.AgentID), v.CreatedAt, v.UpdatedAt}
	case domain.Repair:
		query = upsertRepair
		args = []any{v.ID, v.Seq, v.RequestID, string(v.Status), nullString(v.TechnicianID), nullString(v.Notes), v.CreatedAt, v.UpdatedAt}
	default:
		return fmt.Errorf("unsupported change payload %T for %s", change.After, change.Entity)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", change.Entity, err)
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	loaders := []struct {
		name string
		fn   func(context.Context, *sql.DB, *memory.Snapshot) error
	}{
		{"products", loadProducts},
		{"warranties", loadWarranties},
		{"service_requests", loadRequests},
		{"logistics_orders", loadLogistics},
		{"repairs", loadRepairs},
	}
	for _, l := range loaders {
		if err := l.fn(ctx, db, &snapshot); err != nil {
			return memory.Snapshot{}, fmt.Errorf("load %s: %w", l.name, err)
		}
	}
	return snapshot, nil
}

func queryRows(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func loadProducts(ctx context.Context, db *sql.DB, snap *memory.Snapshot) error {
	return queryRows(ctx, db, `SELECT id, imei, name, model, created_at, updated_at FROM products`, func(rows *sql.Rows) error {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.IMEI, &p.Name, &p.Model, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		snap.Products = append(snap.Products, p)
		return nil
	})
}

func loadWarranties(ctx context.Context, db *sql.DB, snap *memory.Snapshot) error {
	return queryRows(ctx, db, `SELECT id, product_imei, start_date, end_date, terms, created_at, updated_at FROM warranties`, func(rows *sql.Rows) error {
		var w domain.Warranty
		if err := rows.Scan(&w.ID, &w.ProductIMEI, &w.StartDate, &w.EndDate, &w.Terms, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return err
		}
		w.StartDate = w.StartDate.UTC()
		w.EndDate = w.EndDate.UTC()
		snap.Warranties = append(snap.Warranties, w)
		return nil
	})
}

func loadRequests(ctx context.Context, db *sql.DB, snap *memory.Snapshot) error {
	return queryRows(ctx, db, `SELECT id, seq, customer_id, product_imei, issue_description, status, warranty_decision, decision_reason, current_logistics_order_id, current_repair_id, history, created_at, updated_at FROM service_requests`, func(rows *sql.Rows) error {
		var (
			r                 domain.ServiceRequest
			status, decision  string
			logistics, repair sql.NullString
			history           string
		)
		if err := rows.Scan(&r.ID, &r.Seq, &r.CustomerID, &r.ProductIMEI, &r.IssueDescription, &status, &decision, &r.DecisionReason, &logistics, &repair, &history, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		parsed, err := domain.ParseRequestStatus(status)
		if err != nil {
			return err
		}
		r.Status = parsed
		r.Decision = domain.WarrantyDecision(decision)
		r.CurrentLogisticsOrderID = stringPtr(logistics)
		r.CurrentRepairID = stringPtr(repair)
		r.History = []domain.StatusChange{}
		if history != "" {
			if err := json.Unmarshal([]byte(history), &r.History); err != nil {
				return fmt.Errorf("decode history for %s: %w", r.ID, err)
			}
		}
		snap.Requests = append(snap.Requests, r)
		return nil
	})
}

func loadLogistics(ctx context.Context, db *sql.DB, snap *memory.Snapshot) error {
	return queryRows(ctx, db, `SELECT id, seq, request_id, type, status, agent_id, created_at, updated_at FROM logistics_orders ORDER BY seq`, func(rows *sql.Rows) error {
		var (
			o           domain.LogisticsOrder
			typ, status string
			agent       sql.NullString
			parseErr    error
		)
		if err := rows.Scan(&o.ID, &o.Seq, &o.RequestID, &typ, &status, &agent, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return err
		}
		if o.Type, parseErr = domain.ParseLogisticsType(typ); parseErr != nil {
			return parseErr
		}
		if o.Status, parseErr = domain.ParseLogisticsStatus(status); parseErr != nil {
			return parseErr
		}
		o.AgentID = stringPtr(agent)
		snap.Logistics = append(snap.Logistics, o)
		return nil
	})
}

func loadRepairs(ctx context.Context, db *sql.DB, snap *memory.Snapshot) error {
	return queryRows(ctx, db, `SELECT id, seq, request_id, status, technician_id, notes, created_at, updated_at FROM repairs ORDER BY seq`, func(rows *sql.Rows) error {
		var (
			r                 domain.Repair
			status            string
			technician, notes sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Seq, &r.RequestID, &status, &technician, &notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return err
		}
		parsed, err := domain.ParseRepairStatus(status)
		if err != nil {
			return err
		}
		r.Status = parsed
		r.TechnicianID = stringPtr(technician)
		r.Notes = stringPtr(notes)
		snap.Repairs = append(snap.Repairs, r)
		return nil
	})
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
