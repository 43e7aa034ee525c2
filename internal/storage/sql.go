package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"
	"time"

	logx "procnotify/pkg/logx"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store on database/sql for both SQL drivers.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *sqlStore) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) AppendDelivery(ctx context.Context, d Delivery) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	ok := 0
	if d.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO deliveries(id, at, audience, transport, recipients, subject, events, attachments, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		d.ID, d.At.UnixMilli(), d.Audience, d.Transport, strings.Join(d.Recipients, ","), d.Subject,
		d.Events, d.Attachments, ok, nullStr(d.Error), d.TookMS,
	)
	return err
}

func (s *sqlStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, at, audience, transport, recipients, subject, events, attachments, ok, err, took_ms
		 FROM deliveries ORDER BY at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d          Delivery
			at         int64
			recipients string
			ok         int
			errStr     sql.NullString
		)
		if err := rows.Scan(&d.ID, &at, &d.Audience, &d.Transport, &recipients, &d.Subject,
			&d.Events, &d.Attachments, &ok, &errStr, &d.TookMS); err != nil {
			return nil, err
		}
		d.At = time.UnixMilli(at)
		if recipients != "" {
			d.Recipients = strings.Split(recipients, ",")
		}
		d.OK = ok != 0
		d.Error = errStr.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM deliveries WHERE at < ?`), t.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
