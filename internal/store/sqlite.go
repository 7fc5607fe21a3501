package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// default backend for single-operator installs and for tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL UNIQUE,
	manufacturer    TEXT NOT NULL DEFAULT '',
	variant         TEXT NOT NULL DEFAULT '',
	current_price   REAL NOT NULL DEFAULT 0,
	currency        TEXT NOT NULL DEFAULT 'USD',
	last_checked_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batches (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL DEFAULT 'running',
	batch_type     TEXT NOT NULL DEFAULT 'manual',
	created_by     TEXT NOT NULL DEFAULT '',
	days_threshold INTEGER NOT NULL DEFAULT 0,
	total          INTEGER NOT NULL DEFAULT 0,
	metadata       TEXT,
	error          TEXT,
	started_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS price_records (
	id                     TEXT PRIMARY KEY,
	batch_id               TEXT REFERENCES batches(id),
	product_id             TEXT NOT NULL REFERENCES products(id),
	variant                TEXT NOT NULL DEFAULT '',
	price                  REAL,
	validation_basis_price REAL NOT NULL DEFAULT 0,
	status                 TEXT NOT NULL,
	reason                 TEXT NOT NULL DEFAULT '',
	method                 TEXT NOT NULL DEFAULT '',
	confidence             REAL NOT NULL DEFAULT 0,
	validation_confidence  REAL NOT NULL DEFAULT 0,
	reviewed_by            TEXT,
	reviewed_at            DATETIME,
	review_decision        TEXT,
	review_reason          TEXT,
	is_all_time_low        INTEGER NOT NULL DEFAULT 0,
	is_all_time_high       INTEGER NOT NULL DEFAULT 0,
	http_status            INTEGER NOT NULL DEFAULT 0,
	page_size_bytes        INTEGER NOT NULL DEFAULT 0,
	duration_seconds       REAL NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_price_records_batch_id ON price_records(batch_id);
CREATE INDEX IF NOT EXISTS idx_price_records_status ON price_records(status);
CREATE INDEX IF NOT EXISTS idx_price_records_product ON price_records(product_id, variant, status);
CREATE INDEX IF NOT EXISTS idx_products_manufacturer ON products(manufacturer);
CREATE INDEX IF NOT EXISTS idx_products_last_checked ON products(last_checked_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- Batches --

func (s *SQLiteStore) CreateBatch(ctx context.Context, nb NewBatch) (*model.Batch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var metaJSON sql.NullString
	if nb.Metadata != nil {
		raw, err := json.Marshal(nb.Metadata)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal batch metadata")
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, status, batch_type, created_by, days_threshold, total, metadata, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(model.BatchStatusRunning), string(nb.Type), nb.CreatedBy,
		nb.DaysThreshold, nb.Total, metaJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}

	return &model.Batch{
		ID:            id,
		Status:        model.BatchStatusRunning,
		Type:          nb.Type,
		CreatedBy:     nb.CreatedBy,
		DaysThreshold: nb.DaysThreshold,
		Total:         nb.Total,
		Metadata:      nb.Metadata,
		StartedAt:     now,
	}, nil
}

func (s *SQLiteStore) FinishBatch(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("sqlite: finish batch %s: non-terminal status %q", batchID, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(status), errMsg, time.Now().UTC(), batchID, string(model.BatchStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish batch %s", batchID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("batch not running: %s", batchID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatchRow(row scannable) (*model.Batch, error) {
	var b model.Batch
	var metaJSON, errMsg sql.NullString
	if err := row.Scan(&b.ID, &b.Status, &b.Type, &b.CreatedBy, &b.DaysThreshold,
		&b.Total, &metaJSON, &errMsg, &b.StartedAt, &b.CompletedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		b.Error = errMsg.String
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &b.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch metadata")
		}
	}
	return &b, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, batchID)
	b, err := scanBatchRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatchRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) BatchCounts(ctx context.Context, batchID string) (*model.BatchSummary, error) {
	sum := model.BatchSummary{BatchID: batchID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'pending_review' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'success' AND (price IS NULL OR price != validation_basis_price) THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'success' AND price = validation_basis_price THEN 1 ELSE 0 END), 0)
		 FROM price_records WHERE batch_id = ?`,
		batchID,
	).Scan(&sum.Completed, &sum.Successful, &sum.Failed, &sum.NeedsReview, &sum.Updated, &sum.Unchanged)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: batch counts %s", batchID)
	}
	return &sum, nil
}

func (s *SQLiteStore) BatchUsage(ctx context.Context, batchID string) ([]MethodUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT method, COUNT(*), COALESCE(SUM(page_size_bytes), 0)
		 FROM price_records WHERE batch_id = ? GROUP BY method ORDER BY method`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: batch usage %s", batchID)
	}
	defer rows.Close()

	var usage []MethodUsage
	for rows.Next() {
		var u MethodUsage
		if err := rows.Scan(&u.Method, &u.Calls, &u.TotalSize); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "sqlite: batch usage iterate")
}

// -- Price records --

func scanRecordRow(row scannable) (*model.PriceRecord, error) {
	var r model.PriceRecord
	var reviewedBy, decision, reviewReason sql.NullString
	if err := row.Scan(&r.ID, &r.BatchID, &r.ProductID, &r.Variant, &r.Price,
		&r.ValidationBasisPrice, &r.Status, &r.Reason, &r.Method,
		&r.Confidence, &r.ValidationConfidence,
		&reviewedBy, &r.Review.ReviewedAt, &decision, &reviewReason,
		&r.IsAllTimeLow, &r.IsAllTimeHigh,
		&r.Diagnostics.HTTPStatus, &r.Diagnostics.PageSizeBytes, &r.Diagnostics.DurationSeconds,
		&r.CreatedAt); err != nil {
		return nil, err
	}
	if reviewedBy.Valid {
		r.Review.Reviewer = reviewedBy.String
	}
	if decision.Valid {
		d := model.ReviewDecision(decision.String)
		r.Review.Decision = &d
	}
	if reviewReason.Valid {
		r.Review.Reason = reviewReason.String
	}
	return &r, nil
}

func (s *SQLiteStore) InsertPriceRecord(ctx context.Context, rec *model.PriceRecord) (*model.PriceRecord, error) {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_records
		 (id, batch_id, product_id, variant, price, validation_basis_price, status, reason, method,
		  confidence, validation_confidence, is_all_time_low, is_all_time_high,
		  http_status, page_size_bytes, duration_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.BatchID, out.ProductID, out.Variant, out.Price, out.ValidationBasisPrice,
		string(out.Status), string(out.Reason), out.Method,
		out.Confidence, out.ValidationConfidence, out.IsAllTimeLow, out.IsAllTimeHigh,
		out.Diagnostics.HTTPStatus, out.Diagnostics.PageSizeBytes, out.Diagnostics.DurationSeconds,
		out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert price record for product %s", out.ProductID)
	}
	return &out, nil
}

func (s *SQLiteStore) GetPriceRecord(ctx context.Context, recordID string) (*model.PriceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE id = ?`, recordID)
	r, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get price record %s", recordID)
	}
	return r, nil
}

func (s *SQLiteStore) listRecords(ctx context.Context, base string, baseArgs []any, filter RecordFilter) ([]model.PriceRecord, error) {
	query := base
	args := baseArgs

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(filter.Reason))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list price records")
	}
	defer rows.Close()

	var records []model.PriceRecord
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price record")
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list price records iterate")
}

func (s *SQLiteStore) ListBatchRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.PriceRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE batch_id = ?`,
		[]any{batchID}, filter)
}

func (s *SQLiteStore) ListReviewQueue(ctx context.Context, filter RecordFilter) ([]model.PriceRecord, error) {
	filter.Status = ""
	return s.listRecords(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE status = ?`,
		[]any{string(model.RecordStatusPendingReview)}, filter)
}

func (s *SQLiteStore) MarkReviewed(ctx context.Context, recordID, reviewer string, decision model.ReviewDecision, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_records
		 SET status = ?, reviewed_by = ?, reviewed_at = ?, review_decision = ?, review_reason = ?
		 WHERE id = ? AND status = ?`,
		string(model.RecordStatusSuccess), reviewer, time.Now().UTC(), string(decision), reason,
		recordID, string(model.RecordStatusPendingReview),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark reviewed %s", recordID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) RollbackReview(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE price_records
		 SET status = ?, reviewed_by = NULL, reviewed_at = NULL, review_decision = NULL, review_reason = NULL
		 WHERE id = ?`,
		string(model.RecordStatusPendingReview), recordID,
	)
	return eris.Wrapf(err, "sqlite: rollback review %s", recordID)
}

func (s *SQLiteStore) DeletePriceRecords(ctx context.Context, recordIDs []string) ([]string, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recordIDs)), ",")
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`DELETE FROM price_records WHERE id IN (%s) RETURNING id`, placeholders),
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: delete price records")
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deleted id")
		}
		deleted = append(deleted, id)
	}
	return deleted, eris.Wrap(rows.Err(), "sqlite: delete price records iterate")
}

// -- History --

func (s *SQLiteStore) AcceptedHistory(ctx context.Context, productID, variant string) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, price, variant, created_at FROM price_records
		 WHERE product_id = ? AND (? = '' OR variant = ?) AND status = ? AND price IS NOT NULL
		 ORDER BY created_at DESC`,
		productID, variant, variant, string(model.RecordStatusSuccess),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: accepted history %s", productID)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		if err := rows.Scan(&p.RecordID, &p.Price, &p.Variant, &p.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: accepted history iterate")
}

func (s *SQLiteStore) AcceptedExtremes(ctx context.Context, productID, variant string) (*model.Extremes, error) {
	var ex model.Extremes
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(price), MAX(price) FROM price_records
		 WHERE product_id = ? AND (? = '' OR variant = ?) AND status = ? AND price IS NOT NULL`,
		productID, variant, variant, string(model.RecordStatusSuccess),
	).Scan(&ex.AllTimeLow, &ex.AllTimeHigh)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: accepted extremes %s", productID)
	}
	return &ex, nil
}

// -- Products --

func scanProductRow(row scannable) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &p.Manufacturer, &p.Variant,
		&p.CurrentPrice, &p.Currency, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	p, err := scanProductRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get product %s", productID)
	}
	return p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY name LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()
	return collectProductRows(rows)
}

func (s *SQLiteStore) ListStaleProducts(ctx context.Context, filter StaleFilter) ([]model.Product, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -filter.DaysThreshold)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE (last_checked_at IS NULL OR last_checked_at < ?)
		   AND (? = '' OR manufacturer = ?)
		 ORDER BY last_checked_at ASC
		 LIMIT ?`,
		cutoff, filter.Manufacturer, filter.Manufacturer, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale products")
	}
	defer rows.Close()
	return collectProductRows(rows)
}

func collectProductRows(rows *sql.Rows) ([]model.Product, error) {
	var products []model.Product
	for rows.Next() {
		p, err := scanProductRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: products iterate")
}

func (s *SQLiteStore) ApplyCanonicalPrice(ctx context.Context, productID string, price float64, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET current_price = ?, last_checked_at = ?, updated_at = ? WHERE id = ?`,
		price, checkedAt.UTC(), checkedAt.UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply canonical price %s", productID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("product not found: %s", productID)
	}
	return nil
}

func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert products: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO products (id, name, url, manufacturer, variant, current_price, currency, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   name = excluded.name,
		   manufacturer = excluded.manufacturer,
		   variant = excluded.variant,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert products: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var total int64
	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		res, err := stmt.ExecContext(ctx, id, p.Name, p.URL, p.Manufacturer, p.Variant,
			p.CurrentPrice, currency, now, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert product %s", p.URL)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert products: commit tx")
	}
	return total, nil
}
