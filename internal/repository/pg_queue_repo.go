package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchsync/indexqueue/internal/domain"
)

const (
	queueTable = "index_queue_items"

	// initializeChunk bounds the number of rows per multi-row INSERT.
	initializeChunk = 500
)

var itemColumns = []string{
	"id", "site", "record_table", "record_uid", "record_page_id",
	"indexing_configuration", "changed", "indexed", "errors", "error_count",
	"lease_owner", "lease_until", "created_at",
}

// pendingCondition matches items waiting for dispatch.
const pendingCondition = "errors = '' AND (indexed IS NULL OR indexed < changed)"

type pgQueueRepository struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *pgQueueRepository) Initialize(ctx context.Context, site, configuration string, records []domain.SourceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for start := 0; start < len(records); start += initializeChunk {
		end := min(start+initializeChunk, len(records))

		q := r.sb.Insert(queueTable).
			Columns("site", "record_table", "record_uid", "record_page_id", "indexing_configuration", "changed").
			Suffix("ON CONFLICT (site, record_table, record_uid, indexing_configuration) DO NOTHING")
		for _, rec := range records[start:end] {
			changed := rec.Changed
			if changed.IsZero() {
				changed = now
			}
			q = q.Values(site, rec.Table, rec.UID, rec.PageID, configuration, changed)
		}

		sqlStr, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build initialize insert: %w", err)
		}
		tag, err := tx.Exec(ctx, sqlStr, args...)
		if err != nil {
			return 0, fmt.Errorf("insert queue items: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit initialize: %w", err)
	}
	return inserted, nil
}

func (r *pgQueueRepository) statisticsQuery() sq.SelectBuilder {
	return r.sb.Select(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE errors <> '')",
		"COUNT(*) FILTER (WHERE "+pendingCondition+")",
	).From(queueTable)
}

func (r *pgQueueRepository) Statistics(ctx context.Context, site, configuration string) (*domain.Statistics, error) {
	q := r.statisticsQuery().Where(sq.Eq{"site": site})
	if configuration != "" {
		q = q.Where(sq.Eq{"indexing_configuration": configuration})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statistics query: %w", err)
	}

	var s domain.Statistics
	if err := r.pool.QueryRow(ctx, sqlStr, args...).Scan(&s.Total, &s.Failed, &s.Pending); err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	s.Indexed = s.Total - s.Failed - s.Pending
	return &s, nil
}

func (r *pgQueueRepository) StatisticsByConfiguration(ctx context.Context, site string) (map[string]*domain.Statistics, error) {
	q := r.statisticsQuery().
		Column("indexing_configuration").
		Where(sq.Eq{"site": site}).
		GroupBy("indexing_configuration")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statistics query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*domain.Statistics)
	for rows.Next() {
		var (
			s    domain.Statistics
			name string
		)
		if err := rows.Scan(&s.Total, &s.Failed, &s.Pending, &name); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		s.Indexed = s.Total - s.Failed - s.Pending
		result[name] = &s
	}
	return result, rows.Err()
}

func (r *pgQueueRepository) Errors(ctx context.Context, site string) ([]*domain.QueueItem, error) {
	sqlStr, args, err := r.sb.Select(itemColumns...).
		From(queueTable).
		Where(sq.Eq{"site": site}).
		Where(sq.NotEq{"errors": ""}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build errors query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id int64) (*domain.QueueItem, error) {
	sqlStr, args, err := r.sb.Select(itemColumns...).From(queueTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	item, err := scanQueueItem(r.pool.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return item, err
}

func (r *pgQueueRepository) DeleteBySite(ctx context.Context, site string) (int, error) {
	sqlStr, args, err := r.sb.Delete(queueTable).Where(sq.Eq{"site": site}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete queue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgQueueRepository) ResetAllErrors(ctx context.Context) (int, error) {
	sqlStr, args, err := r.sb.Update(queueTable).
		Set("errors", "").
		Where(sq.NotEq{"errors": ""}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset errors: %w", err)
	}
	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("reset errors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Claim leases eligible items with a single conditional UPDATE. SKIP LOCKED
// keeps concurrent claimers from blocking on, or double-leasing, the same rows.
func (r *pgQueueRepository) Claim(ctx context.Context, filter domain.ClaimFilter, owner string, leaseFor time.Duration) ([]*domain.QueueItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	sub := r.sb.Select("id").
		From(queueTable).
		Where(pendingCondition).
		Where("(lease_until IS NULL OR lease_until < NOW())").
		OrderBy("(indexed IS NULL) DESC", "changed ASC", "id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")
	if filter.Site != "" {
		sub = sub.Where(sq.Eq{"site": filter.Site})
	}

	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim select: %w", err)
	}

	// The subquery already uses $1..$n; the lease values follow them.
	n := len(subArgs)
	query := fmt.Sprintf(`
		UPDATE %s
		SET lease_owner = $%d, lease_until = NOW() + $%d::bigint * INTERVAL '1 millisecond'
		WHERE id IN (%s)
		RETURNING %s`,
		queueTable, n+1, n+2, subSQL, joinColumns())
	args := append(subArgs, owner, leaseFor.Milliseconds())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}
	sortForDispatch(items)
	return items, nil
}

func (r *pgQueueRepository) MarkIndexed(ctx context.Context, id int64, owner string, at time.Time) error {
	return r.updateOwned(ctx, id, owner, r.sb.Update(queueTable).
		Set("indexed", at).
		Set("errors", ""))
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id int64, owner, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return r.updateOwned(ctx, id, owner, r.sb.Update(queueTable).
		Set("errors", errMsg).
		Set("error_count", sq.Expr("error_count + 1")))
}

func (r *pgQueueRepository) Release(ctx context.Context, id int64, owner string) error {
	return r.updateOwned(ctx, id, owner, r.sb.Update(queueTable))
}

// updateOwned applies q and releases the lease, but only while owner holds it.
func (r *pgQueueRepository) updateOwned(ctx context.Context, id int64, owner string, q sq.UpdateBuilder) error {
	sqlStr, args, err := q.
		Set("lease_owner", nil).
		Set("lease_until", nil).
		Where(sq.Eq{"id": id, "lease_owner": owner}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update queue item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrItemNotClaimed
	}
	return nil
}

func (r *pgQueueRepository) ReleaseExpiredLeases(ctx context.Context) (int, error) {
	sqlStr, args, err := r.sb.Update(queueTable).
		Set("lease_owner", nil).
		Set("lease_until", nil).
		Where(sq.NotEq{"lease_owner": nil}).
		Where("lease_until <= NOW()").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build release leases: %w", err)
	}
	tag, err := r.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- helpers ----

func joinColumns() string {
	return strings.Join(itemColumns, ", ")
}

// scanQueueItem reads a single queue item row from any pgx row type.
func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var it domain.QueueItem
	err := row.Scan(
		&it.ID, &it.Site, &it.RecordTable, &it.RecordUID, &it.RecordPageID,
		&it.IndexingConfiguration, &it.Changed, &it.Indexed, &it.Errors, &it.ErrorCount,
		&it.LeaseOwner, &it.LeaseUntil, &it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}
