package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/dataset"
)

// DefaultTable receives the seasonal metrics unless configured otherwise.
const DefaultTable = "ehf_heatwaves"

var tableNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store upserts seasonal heatwave metrics into a MySQL or MariaDB table.
type Store struct {
	db     execer
	closer func() error
	table  string
	season calendar.Season
	logger *slog.Logger
}

// Open connects to dsn, which is either a native driver DSN or a
// mariadb:// / mysql:// URL.
func Open(dsn, table string, season calendar.Season, maxConns int, logger *slog.Logger) (*Store, error) {
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	mysqlDSN, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, closer: db.Close, table: table, season: season, logger: logger}, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("incomplete dsn: user, host and database are required")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	return dsn, nil
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "mysql" }

// EnsureSchema creates the metrics table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			season    VARCHAR(8)  NOT NULL,
			year      SMALLINT    NOT NULL,
			lat       DOUBLE      NOT NULL,
			lon       DOUBLE      NOT NULL,
			hwa       DOUBLE      NULL,
			hwm       DOUBLE      NULL,
			hwn       DOUBLE      NULL,
			hwf       DOUBLE      NULL,
			hwd       DOUBLE      NULL,
			hwt       DOUBLE      NULL,
			PRIMARY KEY (season, year, lat, lon)
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Publish upserts recs in one statement.
func (s *Store) Publish(ctx context.Context, recs []dataset.Record) error {
	if len(recs) == 0 {
		return nil
	}
	q, args := s.upsert(recs)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("upsert %d rows into %s: %w", len(recs), s.table, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("Upserted heatwave records", "table", s.table, "records", len(recs), "rowsAffected", n)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

const columnsPerRow = 10

func (s *Store) upsert(recs []dataset.Record) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (season, year, lat, lon, hwa, hwm, hwn, hwf, hwd, hwt) VALUES ", s.table)
	args := make([]any, 0, len(recs)*columnsPerRow)
	for i := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		r := &recs[i]
		args = append(args, s.season.String(), r.Year, r.Latitude, r.Longitude,
			nullFloat(r.HWA), nullFloat(r.HWM), nullFloat(r.HWN),
			nullFloat(r.HWF), nullFloat(r.HWD), nullFloat(r.HWT))
	}
	sb.WriteString(" ON DUPLICATE KEY UPDATE " +
		"hwa = VALUES(hwa), hwm = VALUES(hwm), hwn = VALUES(hwn), " +
		"hwf = VALUES(hwf), hwd = VALUES(hwd), hwt = VALUES(hwt)")
	return sb.String(), args
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
