/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package clickhouse talks to the ClickHouse HTTP interface. The client does
// not retry; the loader owns the retry budget for write paths.
package clickhouse

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
)

// StatusError is a non-2xx answer from ClickHouse. Transport errors keep
// their original type.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clickhouse status=%d body=%s", e.Code, e.Body)
}

type Client struct {
	baseURL  string
	user     string
	pass     string
	database string
	http     *http.Client
	log      zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) (*Client, error) {
	hc := &http.Client{Timeout: cfg.CHTimeout}
	if cfg.CHProto == "https" && cfg.CHCACertPath != "" {
		pem, err := os.ReadFile(cfg.CHCACertPath)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("clickhouse: no certificates in %s", cfg.CHCACertPath)
		}
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}
	}
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s:%d", cfg.CHProto, cfg.CHHost, cfg.CHPort),
		user:     cfg.CHUser,
		pass:     cfg.CHPassword,
		database: cfg.CHDatabase,
		http:     hc,
		log:      log,
	}, nil
}

// Execute posts a raw query as the request body.
func (c *Client) Execute(ctx context.Context, query string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(query))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Clickhouse-User", c.user)
	if c.pass != "" {
		req.Header.Set("X-Clickhouse-Key", c.pass)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// InsertBatch writes rows in JSONEachRow format. Empty batches are a no-op.
func (c *Client) InsertBatch(ctx context.Context, table string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow\n", c.database, table))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("clickhouse: encode row for %s: %w", table, err)
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	c.log.Debug().Str("table", table).Int("rows", len(rows)).Msg("inserting batch")
	return c.Execute(ctx, sb.String())
}

// Deduplicate forces background merges so versioned replaces collapse early.
func (c *Client) Deduplicate(ctx context.Context, table string) error {
	return c.Execute(ctx, fmt.Sprintf("OPTIMIZE TABLE %s.%s FINAL", c.database, table))
}
