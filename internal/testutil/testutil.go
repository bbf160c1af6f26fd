//go:build integration || e2e

// Package testutil provides helpers for integration and e2e tests: env-gated
// service discovery and shared wire fixtures. Unit tests stay hermetic and
// do not use this package.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"
)

// ElasticsearchAddr returns the test Elasticsearch address or skips the test.
// Point EDGEWATCH_TEST_ES_ADDR at an 8.x server (e.g. http://127.0.0.1:9200).
func ElasticsearchAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("EDGEWATCH_TEST_ES_ADDR")
	if addr == "" {
		t.Skip("EDGEWATCH_TEST_ES_ADDR not set; skipping")
	}
	return addr
}

// DatabaseURL returns the test PostgreSQL URL or skips the test. The
// database is migrated and written to; never point this at production.
func DatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("EDGEWATCH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EDGEWATCH_TEST_DATABASE_URL not set; skipping")
	}
	return url
}

// RedisAddr returns the test Redis address or skips the test.
func RedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("EDGEWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EDGEWATCH_TEST_REDIS_ADDR not set; skipping")
	}
	return addr
}

// Eventually polls fn until it returns nil or the timeout expires. Ingestion
// and index refresh are asynchronous; event assertions must retry.
func Eventually(t *testing.T, timeout time.Duration, fn func(ctx context.Context) error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		last = fn(ctx)
		cancel()
		if last == nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %v", timeout, last)
}
