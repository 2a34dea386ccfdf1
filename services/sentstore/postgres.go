package sentstore

import (
	"context"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/codes"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sent_load (
    fingerprint TEXT PRIMARY KEY,
    external_id TEXT NOT NULL,
    pickup TEXT NOT NULL,
    delivery TEXT NOT NULL,
    rate DOUBLE PRECISION NOT NULL,
    miles DOUBLE PRECISION NOT NULL,
    deadhead DOUBLE PRECISION NOT NULL,
    priority TEXT NOT NULL,
    sent_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sent_load_external_id ON sent_load (external_id);
CREATE INDEX IF NOT EXISTS idx_sent_load_sent_at ON sent_load (sent_at);
`

// Postgres backs the sent set with a shared database so multiple scan
// daemon instances can run against the same dedup state.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = Postgres{}

func NewPostgres(ctx context.Context, url string) (Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return Postgres{}, err
	}
	_, err = pool.Exec(ctx, postgresSchema)
	if err != nil {
		pool.Close()
		return Postgres{}, err
	}
	return Postgres{pool: pool}, nil
}

func (s Postgres) Close() {
	s.pool.Close()
}

func (s Postgres) IsKnown(ctx context.Context, fingerprint loads.Fingerprint, externalID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "IsKnown")
	defer span.End()

	row := s.pool.QueryRow(
		ctx,
		`SELECT 1 FROM sent_load WHERE fingerprint = $1 OR external_id = $2 LIMIT 1`,
		string(fingerprint), externalID,
	)
	var one int
	err := row.Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	return true, nil
}

func (s Postgres) MarkSent(ctx context.Context, record loads.SentRecord) error {
	ctx, span := tracer.Start(ctx, "MarkSent")
	defer span.End()

	tag, err := s.pool.Exec(
		ctx,
		`INSERT INTO sent_load (fingerprint, external_id, pickup, delivery, rate, miles, deadhead, priority, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO NOTHING`,
		string(record.Fingerprint),
		record.ExternalID,
		record.Pickup,
		record.Delivery,
		record.Rate,
		record.Miles,
		record.Deadhead,
		record.Priority,
		record.SentAt.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadySent
	}
	return nil
}

func (s Postgres) Recent(ctx context.Context, limit int) ([]loads.SentRecord, error) {
	ctx, span := tracer.Start(ctx, "Recent")
	defer span.End()

	rows, err := s.pool.Query(
		ctx,
		`SELECT fingerprint, external_id, pickup, delivery, rate, miles, deadhead, priority, sent_at
		FROM sent_load ORDER BY sent_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []loads.SentRecord
	for rows.Next() {
		var record loads.SentRecord
		var fingerprint string
		var sentAt int64
		err := rows.Scan(
			&fingerprint,
			&record.ExternalID,
			&record.Pickup,
			&record.Delivery,
			&record.Rate,
			&record.Miles,
			&record.Deadhead,
			&record.Priority,
			&sentAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		record.Fingerprint = loads.Fingerprint(fingerprint)
		record.SentAt = time.Unix(sentAt, 0)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s Postgres) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "Purge")
	defer span.End()

	tag, err := s.pool.Exec(
		ctx,
		`DELETE FROM sent_load WHERE sent_at < $1`,
		olderThan.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return tag.RowsAffected(), nil
}
