package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent("block_external_ip")

	if event.Action != "block_external_ip" {
		t.Errorf("Action = %q, want %q", event.Action, "block_external_ip")
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent("block_external_ip").
		WithOffence(42).
		WithRule(7).
		WithPipeline(3).
		WithDevice("edge-gw-1").
		WithTarget("203.0.113.50").
		WithParams(map[string]string{"list": "siem_blocklist"}).
		WithSuccess().
		WithDuration(time.Second)

	if event.OffenceID != 42 {
		t.Errorf("OffenceID = %d", event.OffenceID)
	}
	if event.RuleID != 7 {
		t.Errorf("RuleID = %d", event.RuleID)
	}
	if event.PipelineID != 3 {
		t.Errorf("PipelineID = %d", event.PipelineID)
	}
	if event.Device != "edge-gw-1" {
		t.Errorf("Device = %q", event.Device)
	}
	if event.Target != "203.0.113.50" {
		t.Errorf("Target = %q", event.Target)
	}
	if event.Params["list"] != "siem_blocklist" {
		t.Errorf("Params = %v", event.Params)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
	if event.Duration != time.Second {
		t.Errorf("Duration = %v", event.Duration)
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent("block_external_ip").
		WithError(errors.New("device unreachable"))

	if event.Success {
		t.Error("Success should be false")
	}
	if event.Error != "device unreachable" {
		t.Errorf("Error = %q", event.Error)
	}

	// Test with nil error
	event2 := NewEvent("unblock_external_ip").WithError(nil)
	if event2.Success {
		t.Error("Success should be false even with nil error")
	}
	if event2.Error != "" {
		t.Errorf("Error should be empty with nil error, got %q", event2.Error)
	}
}

func TestFileLogger_Basic(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	// Log an event
	event := NewEvent("block_external_ip").
		WithDevice("edge-gw-1").
		WithTarget("203.0.113.50").
		WithSuccess()

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	// Query it back
	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	if events[0].Action != "block_external_ip" {
		t.Errorf("Action = %q, want %q", events[0].Action, "block_external_ip")
	}
	if events[0].Device != "edge-gw-1" {
		t.Errorf("Device = %q, want %q", events[0].Device, "edge-gw-1")
	}
}

func TestFileLogger_QueryFilters(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	// Log multiple events
	events := []*Event{
		NewEvent("block_external_ip").WithDevice("edge-gw-1").WithOffence(1).WithRule(10).WithSuccess(),
		NewEvent("send_email").WithOffence(1).WithRule(10).WithSuccess(),
		NewEvent("block_external_ip").WithDevice("edge-gw-2").WithOffence(2).WithRule(11).WithError(errors.New("failed")),
		NewEvent("create_ticket").WithOffence(2).WithRule(11).WithSuccess(),
	}

	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	t.Run("filter by action", func(t *testing.T) {
		results, _ := logger.Query(Filter{Action: "block_external_ip"})
		if len(results) != 2 {
			t.Errorf("Expected 2 block_external_ip events, got %d", len(results))
		}
	})

	t.Run("filter by device", func(t *testing.T) {
		results, _ := logger.Query(Filter{Device: "edge-gw-1"})
		if len(results) != 1 {
			t.Errorf("Expected 1 event for edge-gw-1, got %d", len(results))
		}
	})

	t.Run("filter by offence", func(t *testing.T) {
		results, _ := logger.Query(Filter{OffenceID: 2})
		if len(results) != 2 {
			t.Errorf("Expected 2 events for offence 2, got %d", len(results))
		}
	})

	t.Run("filter by rule", func(t *testing.T) {
		results, _ := logger.Query(Filter{RuleID: 10})
		if len(results) != 2 {
			t.Errorf("Expected 2 events for rule 10, got %d", len(results))
		}
	})

	t.Run("filter success only", func(t *testing.T) {
		results, _ := logger.Query(Filter{SuccessOnly: true})
		if len(results) != 3 {
			t.Errorf("Expected 3 successful events, got %d", len(results))
		}
	})

	t.Run("filter failure only", func(t *testing.T) {
		results, _ := logger.Query(Filter{FailureOnly: true})
		if len(results) != 1 {
			t.Errorf("Expected 1 failed event, got %d", len(results))
		}
	})

	t.Run("filter with limit", func(t *testing.T) {
		results, _ := logger.Query(Filter{Limit: 2})
		if len(results) != 2 {
			t.Errorf("Expected 2 events with limit, got %d", len(results))
		}
	})

	t.Run("filter with offset", func(t *testing.T) {
		results, _ := logger.Query(Filter{Offset: 2})
		if len(results) != 2 {
			t.Errorf("Expected 2 events with offset, got %d", len(results))
		}
	})
}

func TestFileLogger_QueryTimeFilter(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	logger.Log(NewEvent("send_email").WithSuccess())

	// Query with time filters
	results, _ := logger.Query(Filter{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	})

	if len(results) != 1 {
		t.Errorf("Expected 1 event in time range, got %d", len(results))
	}

	// Query outside time range
	results, _ = logger.Query(Filter{
		StartTime: time.Now().Add(time.Hour),
	})

	if len(results) != 0 {
		t.Errorf("Expected 0 events outside time range, got %d", len(results))
	}
}

func TestFileLogger_NonExistentFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "nonexistent", "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger should create directories: %v", err)
	}
	defer logger.Close()
}

func TestDefaultLogger(t *testing.T) {
	// Clear default logger
	SetDefaultLogger(nil)

	// Log with no default should not error
	if err := Log(NewEvent("send_email")); err != nil {
		t.Errorf("Log with nil default should not error: %v", err)
	}

	// Query with no default should return empty
	results, err := Query(Filter{})
	if err != nil {
		t.Errorf("Query with nil default should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected 0 results, got %d", len(results))
	}

	// Set up a logger
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	SetDefaultLogger(logger)

	// Now log and query should work
	if err := Log(NewEvent("block_external_ip").WithSuccess()); err != nil {
		t.Errorf("Log failed: %v", err)
	}

	results, err = Query(Filter{})
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(results))
	}

	// Clean up
	SetDefaultLogger(nil)
}

func TestFileLogger_LogRotation(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-rotation-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	// Set very small max size to trigger rotation
	logger, err := NewFileLogger(logPath, RotationConfig{
		MaxSize:    100, // 100 bytes - will trigger on second log
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	// Log multiple events to trigger rotation
	for i := 0; i < 5; i++ {
		event := NewEvent("block_external_ip").
			WithDevice("edge-gw-1").
			WithSuccess()
		if err := logger.Log(event); err != nil {
			t.Fatalf("Log failed on iteration %d: %v", i, err)
		}
	}

	// Check that rotation files were created
	matches, err := filepath.Glob(filepath.Join(tmpDir, "audit.log.*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}

	// Should have some backup files
	if len(matches) == 0 {
		t.Error("Expected rotation to create backup files")
	}
}

func TestFileLogger_RotationWithCleanup(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-cleanup-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")
	// Set very small max size and low max backups
	logger, err := NewFileLogger(logPath, RotationConfig{
		MaxSize:    50, // Very small to trigger many rotations
		MaxBackups: 2,  // Only keep 2 backups
	})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	// Log many events to trigger multiple rotations and cleanups
	for i := 0; i < 10; i++ {
		event := NewEvent("send_email")
		if err := logger.Log(event); err != nil {
			t.Fatalf("Log failed on iteration %d: %v", i, err)
		}
	}

	// Check backup count doesn't exceed MaxBackups
	matches, err := filepath.Glob(filepath.Join(tmpDir, "audit.log.*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}

	if len(matches) > 2 {
		t.Errorf("Expected at most 2 backup files, got %d", len(matches))
	}
}

func TestFileLogger_QueryMalformedJSON(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	logPath := filepath.Join(tmpDir, "audit.log")

	// Write malformed JSON directly to log file
	content := `{"action":"block_external_ip","device":"edge-gw-1","success":true}
invalid json line
{"action":"send_email","success":true}
`
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test data: %v", err)
	}

	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	// Query should skip malformed lines
	results, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(results) != 2 {
		t.Errorf("Expected 2 valid events (skipping malformed), got %d", len(results))
	}
}

func TestFileLogger_CloseNilFile(t *testing.T) {
	// Create a logger and manually set file to nil
	logger := &FileLogger{
		path: "/tmp/test.log",
		file: nil, // nil file
	}

	// Close should handle nil file gracefully
	err := logger.Close()
	if err != nil {
		t.Errorf("Close() with nil file should not error: %v", err)
	}
}
