package sentstore

import (
	"context"
	"database/sql"
	"time"

	_ "embed"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"

	"go.opentelemetry.io/otel/codes"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Sqlite is the default single-instance store.
type Sqlite struct {
	db *sql.DB
}

var _ Store = Sqlite{}

func NewSqlite(db *sql.DB) Sqlite {
	return Sqlite{db: db}
}

func (s Sqlite) IsKnown(ctx context.Context, fingerprint loads.Fingerprint, externalID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "IsKnown")
	defer span.End()

	// external id matched alongside the fingerprint so a load dedups
	// even when the board drifts one of the two between captures
	row := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM sent_load WHERE fingerprint = ? OR external_id = ? LIMIT 1`,
		string(fingerprint), externalID,
	)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	return true, nil
}

func (s Sqlite) MarkSent(ctx context.Context, record loads.SentRecord) error {
	ctx, span := tracer.Start(ctx, "MarkSent")
	defer span.End()

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sent_load (fingerprint, external_id, pickup, delivery, rate, miles, deadhead, priority, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if affected == 0 {
		return ErrAlreadySent
	}
	return nil
}

func (s Sqlite) Recent(ctx context.Context, limit int) ([]loads.SentRecord, error) {
	ctx, span := tracer.Start(ctx, "Recent")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT fingerprint, external_id, pickup, delivery, rate, miles, deadhead, priority, sent_at
		FROM sent_load ORDER BY sent_at DESC LIMIT ?`,
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

func (s Sqlite) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "Purge")
	defer span.End()

	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM sent_load WHERE sent_at < ?`,
		olderThan.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return res.RowsAffected()
}
