package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Config struct {
	DSN            string
	MaxConns       int
	Timeout        time.Duration
	TimeZone       string
	ClientEncoding string
}

// Connect opens a postgres pool wrapped in sqlx and verifies connectivity with a ping.
func Connect(cfg Config) (*sqlx.DB, error) {
	dsn, err := withSessionParams(cfg.DSN, cfg.TimeZone, cfg.ClientEncoding)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withSessionParams passes time zone and client encoding as startup parameters so
// every pooled connection gets them, not only the one a SET happened to run on.
// lib/pq forwards unknown URL query keys to the server as run-time parameters.
func withSessionParams(dsn, timeZone, clientEncoding string) (string, error) {
	if timeZone == "" && clientEncoding == "" {
		return dsn, nil
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		// key=value form
		if timeZone != "" {
			dsn += " timezone=" + quoteLiteral(timeZone)
		}
		if clientEncoding != "" {
			dsn += " client_encoding=" + quoteLiteral(clientEncoding)
		}
		return strings.TrimSpace(dsn), nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	if timeZone != "" {
		q.Set("timezone", timeZone)
	}
	if clientEncoding != "" {
		q.Set("client_encoding", clientEncoding)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// quoteLiteral escapes single quotes and backslashes and wraps the value in single
// quotes, the quoting lib/pq expects for key=value connection strings.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
