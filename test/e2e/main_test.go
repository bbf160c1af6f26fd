//go:build e2e

// End-to-end pipeline tests against real backing services. Gate them with
// environment variables:
//
//	EDGEWATCH_TEST_ES_ADDR        Elasticsearch 8.x, required by every test
//	EDGEWATCH_TEST_DATABASE_URL   PostgreSQL, required by the detection tests
//
// Tests write to uniquely named rules and to the daily siem-* indices; run
// them against throwaway services only.
package e2e_test

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
