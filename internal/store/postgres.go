package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dealscope/pricetrack-cli/internal/db"
	"github.com/dealscope/pricetrack-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations during a batch run.
var preparedStatements = map[string]string{
	"insert_price_record": `INSERT INTO price_records
		(id, batch_id, product_id, variant, price, validation_basis_price, status, reason, method,
		 confidence, validation_confidence, is_all_time_low, is_all_time_high,
		 http_status, page_size_bytes, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
	"mark_reviewed": `UPDATE price_records
		SET status = $1, reviewed_by = $2, reviewed_at = $3, review_decision = $4, review_reason = $5
		WHERE id = $6 AND status = $7`,
	"rollback_review": `UPDATE price_records
		SET status = $1, reviewed_by = NULL, reviewed_at = NULL, review_decision = NULL, review_reason = NULL
		WHERE id = $2`,
	"apply_canonical_price": `UPDATE products SET current_price = $1, last_checked_at = $2, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that
// need direct query access (e.g., the product feed importer).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS products (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL UNIQUE,
	manufacturer    TEXT NOT NULL DEFAULT '',
	variant         TEXT NOT NULL DEFAULT '',
	current_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency        TEXT NOT NULL DEFAULT 'USD',
	last_checked_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status         TEXT NOT NULL DEFAULT 'running',
	batch_type     TEXT NOT NULL DEFAULT 'manual',
	created_by     TEXT NOT NULL DEFAULT '',
	days_threshold INTEGER NOT NULL DEFAULT 0,
	total          INTEGER NOT NULL DEFAULT 0,
	metadata       JSONB,
	error          TEXT,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS price_records (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	batch_id               TEXT REFERENCES batches(id),
	product_id             TEXT NOT NULL REFERENCES products(id),
	variant                TEXT NOT NULL DEFAULT '',
	price                  DOUBLE PRECISION,
	validation_basis_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	status                 TEXT NOT NULL,
	reason                 TEXT NOT NULL DEFAULT '',
	method                 TEXT NOT NULL DEFAULT '',
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	reviewed_by            TEXT,
	reviewed_at            TIMESTAMPTZ,
	review_decision        TEXT,
	review_reason          TEXT,
	is_all_time_low        BOOLEAN NOT NULL DEFAULT false,
	is_all_time_high       BOOLEAN NOT NULL DEFAULT false,
	http_status            INTEGER NOT NULL DEFAULT 0,
	page_size_bytes        BIGINT NOT NULL DEFAULT 0,
	duration_seconds       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_price_records_batch_id ON price_records(batch_id);
CREATE INDEX IF NOT EXISTS idx_price_records_status ON price_records(status);
CREATE INDEX IF NOT EXISTS idx_price_records_product ON price_records(product_id, variant, status);
CREATE INDEX IF NOT EXISTS idx_products_manufacturer ON products(manufacturer);
CREATE INDEX IF NOT EXISTS idx_products_last_checked ON products(last_checked_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- Batches --

func (s *PostgresStore) CreateBatch(ctx context.Context, nb NewBatch) (*model.Batch, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var metaJSON []byte
	if nb.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(nb.Metadata)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal batch metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, status, batch_type, created_by, days_threshold, total, metadata, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, string(model.BatchStatusRunning), string(nb.Type), nb.CreatedBy,
		nb.DaysThreshold, nb.Total, metaJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
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

func (s *PostgresStore) FinishBatch(ctx context.Context, batchID string, status model.BatchStatus, errMsg string) error {
	if !status.Terminal() {
		return eris.Errorf("postgres: finish batch %s: non-terminal status %q", batchID, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $1, error = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(status), errMsg, time.Now().UTC(), batchID, string(model.BatchStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not running: %s", batchID)
	}
	return nil
}

const batchColumns = `id, status, batch_type, created_by, days_threshold, total, metadata, error, started_at, completed_at`

func scanBatch(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	var metaJSON []byte
	var errMsg *string
	if err := row.Scan(&b.ID, &b.Status, &b.Type, &b.CreatedBy, &b.DaysThreshold,
		&b.Total, &metaJSON, &errMsg, &b.StartedAt, &b.CompletedAt); err != nil {
		return nil, err
	}
	if errMsg != nil {
		b.Error = *errMsg
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &b.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch metadata")
		}
	}
	return &b, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func (s *PostgresStore) BatchCounts(ctx context.Context, batchID string) (*model.BatchSummary, error) {
	sum := model.BatchSummary{BatchID: batchID}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'success'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'pending_review'),
		        COUNT(*) FILTER (WHERE status = 'success' AND price IS DISTINCT FROM validation_basis_price),
		        COUNT(*) FILTER (WHERE status = 'success' AND price = validation_basis_price)
		 FROM price_records WHERE batch_id = $1`,
		batchID,
	).Scan(&sum.Completed, &sum.Successful, &sum.Failed, &sum.NeedsReview, &sum.Updated, &sum.Unchanged)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: batch counts %s", batchID)
	}
	return &sum, nil
}

func (s *PostgresStore) BatchUsage(ctx context.Context, batchID string) ([]MethodUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT method, COUNT(*), COALESCE(SUM(page_size_bytes), 0)
		 FROM price_records WHERE batch_id = $1 GROUP BY method ORDER BY method`,
		batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: batch usage %s", batchID)
	}
	defer rows.Close()

	var usage []MethodUsage
	for rows.Next() {
		var u MethodUsage
		if err := rows.Scan(&u.Method, &u.Calls, &u.TotalSize); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "postgres: batch usage iterate")
}

// -- Price records --

const recordColumns = `id, batch_id, product_id, variant, price, validation_basis_price, status, reason,
	method, confidence, validation_confidence, reviewed_by, reviewed_at, review_decision, review_reason,
	is_all_time_low, is_all_time_high, http_status, page_size_bytes, duration_seconds, created_at`

func scanRecord(row pgx.Row) (*model.PriceRecord, error) {
	var r model.PriceRecord
	var reviewedBy, reviewReason *string
	var decision *string
	if err := row.Scan(&r.ID, &r.BatchID, &r.ProductID, &r.Variant, &r.Price,
		&r.ValidationBasisPrice, &r.Status, &r.Reason, &r.Method,
		&r.Confidence, &r.ValidationConfidence,
		&reviewedBy, &r.Review.ReviewedAt, &decision, &reviewReason,
		&r.IsAllTimeLow, &r.IsAllTimeHigh,
		&r.Diagnostics.HTTPStatus, &r.Diagnostics.PageSizeBytes, &r.Diagnostics.DurationSeconds,
		&r.CreatedAt); err != nil {
		return nil, err
	}
	if reviewedBy != nil {
		r.Review.Reviewer = *reviewedBy
	}
	if decision != nil {
		d := model.ReviewDecision(*decision)
		r.Review.Decision = &d
	}
	if reviewReason != nil {
		r.Review.Reason = *reviewReason
	}
	return &r, nil
}

func (s *PostgresStore) InsertPriceRecord(ctx context.Context, rec *model.PriceRecord) (*model.PriceRecord, error) {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_records
		 (id, batch_id, product_id, variant, price, validation_basis_price, status, reason, method,
		  confidence, validation_confidence, is_all_time_low, is_all_time_high,
		  http_status, page_size_bytes, duration_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		out.ID, out.BatchID, out.ProductID, out.Variant, out.Price, out.ValidationBasisPrice,
		string(out.Status), string(out.Reason), out.Method,
		out.Confidence, out.ValidationConfidence, out.IsAllTimeLow, out.IsAllTimeHigh,
		out.Diagnostics.HTTPStatus, out.Diagnostics.PageSizeBytes, out.Diagnostics.DurationSeconds,
		out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert price record for product %s", out.ProductID)
	}
	return &out, nil
}

func (s *PostgresStore) GetPriceRecord(ctx context.Context, recordID string) (*model.PriceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE id = $1`, recordID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get price record %s", recordID)
	}
	return r, nil
}

func (s *PostgresStore) listRecords(ctx context.Context, base string, baseArgs []any, filter RecordFilter) ([]model.PriceRecord, error) {
	query := base
	args := baseArgs
	argIdx := len(args) + 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Reason != "" {
		query += fmt.Sprintf(` AND reason = $%d`, argIdx)
		args = append(args, string(filter.Reason))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list price records")
	}
	defer rows.Close()

	var records []model.PriceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan price record")
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list price records iterate")
}

func (s *PostgresStore) ListBatchRecords(ctx context.Context, batchID string, filter RecordFilter) ([]model.PriceRecord, error) {
	return s.listRecords(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE batch_id = $1`,
		[]any{batchID}, filter)
}

func (s *PostgresStore) ListReviewQueue(ctx context.Context, filter RecordFilter) ([]model.PriceRecord, error) {
	filter.Status = ""
	return s.listRecords(ctx,
		`SELECT `+recordColumns+` FROM price_records WHERE status = $1`,
		[]any{string(model.RecordStatusPendingReview)}, filter)
}

func (s *PostgresStore) MarkReviewed(ctx context.Context, recordID, reviewer string, decision model.ReviewDecision, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE price_records
		 SET status = $1, reviewed_by = $2, reviewed_at = $3, review_decision = $4, review_reason = $5
		 WHERE id = $6 AND status = $7`,
		string(model.RecordStatusSuccess), reviewer, time.Now().UTC(), string(decision), reason,
		recordID, string(model.RecordStatusPendingReview),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark reviewed %s", recordID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RollbackReview(ctx context.Context, recordID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE price_records
		 SET status = $1, reviewed_by = NULL, reviewed_at = NULL, review_decision = NULL, review_reason = NULL
		 WHERE id = $2`,
		string(model.RecordStatusPendingReview), recordID,
	)
	return eris.Wrapf(err, "postgres: rollback review %s", recordID)
}

func (s *PostgresStore) DeletePriceRecords(ctx context.Context, recordIDs []string) ([]string, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`DELETE FROM price_records WHERE id = ANY($1) RETURNING id`,
		recordIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: delete price records")
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deleted id")
		}
		deleted = append(deleted, id)
	}
	return deleted, eris.Wrap(rows.Err(), "postgres: delete price records iterate")
}

// -- History --

func (s *PostgresStore) AcceptedHistory(ctx context.Context, productID, variant string) ([]model.PricePoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, price, variant, created_at FROM price_records
		 WHERE product_id = $1 AND ($2 = '' OR variant = $2) AND status = $3 AND price IS NOT NULL
		 ORDER BY created_at DESC`,
		productID, variant, string(model.RecordStatusSuccess),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: accepted history %s", productID)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		if err := rows.Scan(&p.RecordID, &p.Price, &p.Variant, &p.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan price point")
		}
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: accepted history iterate")
}

func (s *PostgresStore) AcceptedExtremes(ctx context.Context, productID, variant string) (*model.Extremes, error) {
	var ex model.Extremes
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(price), MAX(price) FROM price_records
		 WHERE product_id = $1 AND ($2 = '' OR variant = $2) AND status = $3 AND price IS NOT NULL`,
		productID, variant, string(model.RecordStatusSuccess),
	).Scan(&ex.AllTimeLow, &ex.AllTimeHigh)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: accepted extremes %s", productID)
	}
	return &ex, nil
}

// -- Products --

const productColumns = `id, name, url, manufacturer, variant, current_price, currency, last_checked_at, created_at, updated_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &p.Manufacturer, &p.Variant,
		&p.CurrentPrice, &p.Currency, &p.LastCheckedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get product %s", productID)
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *PostgresStore) ListStaleProducts(ctx context.Context, filter StaleFilter) ([]model.Product, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE (last_checked_at IS NULL OR last_checked_at < now() - make_interval(days => $1))
		   AND ($2 = '' OR manufacturer = $2)
		 ORDER BY last_checked_at ASC NULLS FIRST
		 LIMIT $3`,
		filter.DaysThreshold, filter.Manufacturer, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale products")
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]model.Product, error) {
	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: products iterate")
}

func (s *PostgresStore) ApplyCanonicalPrice(ctx context.Context, productID string, price float64, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET current_price = $1, last_checked_at = $2, updated_at = $2 WHERE id = $3`,
		price, checkedAt.UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply canonical price %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("product not found: %s", productID)
	}
	return nil
}

// UpsertProducts bulk-loads a product feed. New rows get fresh ids; rows
// whose url already exists update descriptive fields but leave the
// canonical price and check timestamps untouched.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []model.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		rows = append(rows, []any{
			id, p.Name, p.URL, p.Manufacturer, p.Variant, p.CurrentPrice, currency, now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "products",
		Columns: []string{
			"id", "name", "url", "manufacturer", "variant", "current_price", "currency",
			"created_at", "updated_at",
		},
		ConflictKeys: []string{"url"},
		UpdateCols:   []string{"name", "manufacturer", "variant", "updated_at"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert products")
	}
	return n, nil
}
