package source

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchsync/indexqueue/internal/domain"
)

// PgRecordSource reads candidate records from the source_records table.
type PgRecordSource struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

func NewPgRecordSource(pool *pgxpool.Pool) *PgRecordSource {
	return &PgRecordSource{pool: pool, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

func (s *PgRecordSource) Records(ctx context.Context, site string, cfg domain.IndexingConfiguration) ([]domain.SourceRecord, error) {
	sqlStr, args, err := s.sb.
		Select("record_table", "record_uid", "page_id", "changed").
		From("source_records").
		Where(sq.Eq{"site": site, "record_table": cfg.Table, "deleted": false}).
		OrderBy("record_uid ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build source query: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query source records: %w", err)
	}
	defer rows.Close()

	var out []domain.SourceRecord
	for rows.Next() {
		var r domain.SourceRecord
		if err := rows.Scan(&r.Table, &r.UID, &r.PageID, &r.Changed); err != nil {
			return nil, fmt.Errorf("scan source record: %w", err)
		}
		// pages are rendered at their own id
		if r.PageID == 0 && r.Table == "pages" {
			r.PageID = r.UID
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ RecordSource = (*PgRecordSource)(nil)
