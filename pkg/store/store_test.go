package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edgewatch/edgewatch/pkg/util"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewStore(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func checkExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestValidateSemantics(t *testing.T) {
	tests := []struct {
		name    string
		rule    CorrelationRule
		wantErr bool
	}{
		{
			name: "ioc match complete",
			rule: CorrelationRule{
				RuleType:          RuleIOCMatchIP,
				EventFieldToMatch: "source_ip",
				IoCTypeToMatch:    "ipv4-addr",
			},
			wantErr: false,
		},
		{
			name:    "ioc match missing fields",
			rule:    CorrelationRule{RuleType: RuleIOCMatchIP},
			wantErr: true,
		},
		{
			name: "threshold complete",
			rule: CorrelationRule{
				RuleType:               RuleThresholdLoginFailures,
				ThresholdCount:         int64Ptr(5),
				ThresholdWindowMinutes: intPtr(10),
				AggregationFields:      pq.StringArray{"source_ip"},
			},
			wantErr: false,
		},
		{
			name: "threshold missing count",
			rule: CorrelationRule{
				RuleType:               RuleThresholdLoginFailures,
				ThresholdWindowMinutes: intPtr(10),
				AggregationFields:      pq.StringArray{"source_ip"},
			},
			wantErr: true,
		},
		{
			name: "threshold zero count",
			rule: CorrelationRule{
				RuleType:               RuleThresholdDataExfiltration,
				ThresholdCount:         int64Ptr(0),
				ThresholdWindowMinutes: intPtr(10),
				AggregationFields:      pq.StringArray{"source_ip"},
			},
			wantErr: true,
		},
		{
			name: "threshold no aggregation fields",
			rule: CorrelationRule{
				RuleType:               RuleThresholdDataExfiltration,
				ThresholdCount:         int64Ptr(1000000),
				ThresholdWindowMinutes: intPtr(60),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSemantics(&tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSemantics() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrValidationFailed) {
				t.Errorf("error should wrap ErrValidationFailed, got %v", err)
			}
		})
	}
}

func TestRuleCreate_InvalidSkipsSQL(t *testing.T) {
	st, mock := newMockStore(t)

	// Missing name, type, template: must fail before any query runs
	_, err := st.Rules.Create(context.Background(), &CorrelationRule{})
	if err == nil {
		t.Fatal("Create should reject an empty rule")
	}
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("error should wrap ErrValidationFailed, got %v", err)
	}
	checkExpectations(t, mock)
}

func deviceColumns() []string {
	return []string{
		"id", "name", "host", "port", "username", "encrypted_password", "device_type",
		"status", "is_enabled", "os_version", "syslog_configured_by_siem",
		"netflow_configured_by_siem", "last_successful_connection", "last_status_update",
		"created_at", "updated_at",
	}
}

func deviceRow(id int64, name, host string, status string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, name, host, 8728, "siem-svc", "sealed", DeviceTypeMikroTik,
		status, true, "", false, false, nil, nil, now, now,
	}
}

func TestDeviceCreate_DefaultsStatusUnknown(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows(deviceColumns()).
		AddRow(deviceRow(1, "edge-gw-1", "192.168.88.1", DeviceUnknown)...)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO devices")).
		WithArgs("edge-gw-1", "192.168.88.1", 8728, "siem-svc", "sealed",
			DeviceTypeMikroTik, DeviceUnknown, true).
		WillReturnRows(rows)

	created, err := st.Devices.Create(context.Background(), &Device{
		Name:              "edge-gw-1",
		Host:              "192.168.88.1",
		Port:              8728,
		Username:          "siem-svc",
		EncryptedPassword: "sealed",
		DeviceType:        DeviceTypeMikroTik,
		IsEnabled:         true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Status != DeviceUnknown {
		t.Errorf("Status = %q, want %q", created.Status, DeviceUnknown)
	}
	checkExpectations(t, mock)
}

func TestDeviceCreate_DuplicateHost(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO devices")).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "devices_host_key"})

	_, err := st.Devices.Create(context.Background(), &Device{
		Name:              "edge-gw-2",
		Host:              "192.168.88.1",
		Port:              8728,
		Username:          "siem-svc",
		EncryptedPassword: "sealed",
		DeviceType:        DeviceTypeMikroTik,
	})
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Errorf("duplicate host should map to ErrAlreadyExists, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestDeviceGet_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM devices WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(deviceColumns()))

	_, err := st.Devices.Get(context.Background(), 42)
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("missing row should map to ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestDeviceUpdateStatus(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE devices SET status = $2")).
		WithArgs(int64(7), DeviceReachable).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Devices.UpdateStatus(context.Background(), 7, DeviceReachable); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	checkExpectations(t, mock)
}

func offenceColumns() []string {
	return []string{
		"id", "title", "description", "severity", "status", "correlation_rule_id",
		"triggering_event_summary", "matched_ioc_details", "attributed_apt_group_ids",
		"detected_at", "notes", "assigned_to_user_id", "created_at", "updated_at",
	}
}

func TestOffenceList_Filters(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(offenceColumns()).AddRow(
		int64(1), "IoC match", "", SeverityHigh, OffenceNew, int64(3),
		[]byte(`{"source_ip":"203.0.113.50"}`), []byte(`{"value":"203.0.113.50"}`),
		[]byte(`{11,12}`), now, "", nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT * FROM offences WHERE status = $1 AND severity = $2 ORDER BY detected_at DESC LIMIT $3 OFFSET $4")).
		WithArgs(OffenceNew, SeverityHigh, defaultListLimit, 0).
		WillReturnRows(rows)

	offences, err := st.Offences.List(context.Background(), OffenceFilter{
		Status:   OffenceNew,
		Severity: SeverityHigh,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(offences) != 1 {
		t.Fatalf("Expected 1 offence, got %d", len(offences))
	}

	o := offences[0]
	if o.TriggeringEventSummary["source_ip"] != "203.0.113.50" {
		t.Errorf("TriggeringEventSummary = %v", o.TriggeringEventSummary)
	}
	if len(o.AttributedAPTGroupIDs) != 2 || o.AttributedAPTGroupIDs[0] != 11 {
		t.Errorf("AttributedAPTGroupIDs = %v", o.AttributedAPTGroupIDs)
	}
	checkExpectations(t, mock)
}

func TestOffenceUpdateTriage_PartialPatch(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows(offenceColumns()).AddRow(
		int64(5), "IoC match", "", SeverityHigh, OffenceClosedTruePositive, nil,
		nil, nil, []byte(`{}`), now, "confirmed exfil", nil, now, now)

	// Only status and notes appear in SET
	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE offences SET updated_at = now(), status = $2, notes = $3 WHERE id = $1 RETURNING *")).
		WithArgs(int64(5), OffenceClosedTruePositive, "confirmed exfil").
		WillReturnRows(rows)

	updated, err := st.Offences.UpdateTriage(context.Background(), 5, TriagePatch{
		Status: strPtr(OffenceClosedTruePositive),
		Notes:  strPtr("confirmed exfil"),
	})
	if err != nil {
		t.Fatalf("UpdateTriage failed: %v", err)
	}
	if updated.Status != OffenceClosedTruePositive {
		t.Errorf("Status = %q", updated.Status)
	}
	checkExpectations(t, mock)
}

func TestOffenceSummaryBySeverity(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"severity", "offence_count"}).
		AddRow(SeverityHigh, int64(4)).
		AddRow(SeverityLow, int64(1))

	mock.ExpectQuery("SELECT severity, count").
		WithArgs(7).
		WillReturnRows(rows)

	summary, err := st.Offences.SummaryBySeverity(context.Background(), 7)
	if err != nil {
		t.Fatalf("SummaryBySeverity failed: %v", err)
	}
	if len(summary) != 2 || summary[0].Severity != SeverityHigh || summary[0].Count != 4 {
		t.Errorf("summary = %+v", summary)
	}
	checkExpectations(t, mock)
}

func TestOffenceByAPT(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"apt_id", "name", "offence_count"}).
		AddRow(int64(11), "APT-Quartz", int64(3)).
		AddRow(int64(12), "", int64(1))

	mock.ExpectQuery("CROSS JOIN LATERAL unnest").
		WithArgs(30).
		WillReturnRows(rows)

	counts, err := st.Offences.ByAPT(context.Background(), 30)
	if err != nil {
		t.Fatalf("ByAPT failed: %v", err)
	}
	if len(counts) != 2 || counts[0].Name != "APT-Quartz" || counts[0].Count != 3 {
		t.Errorf("counts = %+v", counts)
	}
	checkExpectations(t, mock)
}

func TestOffenceMatchedIoCSince(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"matched_ioc_details"}).
		AddRow([]byte(`{"value":"203.0.113.50","type":"ipv4-addr"}`)).
		AddRow([]byte(`{"value":"198.51.100.7","type":"ipv4-addr"}`))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT matched_ioc_details")).
		WithArgs(7).
		WillReturnRows(rows)

	details, err := st.Offences.MatchedIoCSince(context.Background(), 7)
	if err != nil {
		t.Fatalf("MatchedIoCSince failed: %v", err)
	}
	if len(details) != 2 || details[0]["value"] != "203.0.113.50" {
		t.Errorf("details = %v", details)
	}
	checkExpectations(t, mock)
}

func TestPipelineCreate_RejectsUnknownAction(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM response_actions WHERE id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := st.Pipelines.Create(context.Background(), &ResponsePipeline{
		Name:      "block attacker",
		IsEnabled: true,
		ActionsConfig: StepList{
			{ActionID: 1, Order: 1},
			{ActionID: 99, Order: 2},
		},
	})
	if err == nil {
		t.Fatal("Create should reject a config referencing a missing action")
	}
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("error should wrap ErrValidationFailed, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestPipelineFindForRule_NoneMeansNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM response_pipelines")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.Pipelines.FindForRule(context.Background(), 3)
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("no pipeline should map to ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestOrderedSteps(t *testing.T) {
	p := &ResponsePipeline{ActionsConfig: StepList{
		{ActionID: 3, Order: 30},
		{ActionID: 1, Order: 10},
		{ActionID: 2, Order: 20},
	}}

	steps := OrderedSteps(p)
	if steps[0].ActionID != 1 || steps[1].ActionID != 2 || steps[2].ActionID != 3 {
		t.Errorf("OrderedSteps = %+v", steps)
	}

	// Original slice untouched
	if p.ActionsConfig[0].ActionID != 3 {
		t.Error("OrderedSteps should not mutate the pipeline")
	}
}

func TestSourceMarkFetched_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE ioc_sources SET last_fetched = now()")).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Sources.MarkFetched(context.Background(), 9)
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("zero rows should map to ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestJSONMap_ScanAndValue(t *testing.T) {
	var m JSONMap
	if err := m.Scan([]byte(`{"k":"v"}`)); err != nil {
		t.Fatalf("Scan bytes failed: %v", err)
	}
	if m["k"] != "v" {
		t.Errorf("m = %v", m)
	}

	if err := m.Scan("{\"n\":2}"); err != nil {
		t.Fatalf("Scan string failed: %v", err)
	}
	if m["n"] != float64(2) {
		t.Errorf("m = %v", m)
	}

	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan nil failed: %v", err)
	}
	if m != nil {
		t.Errorf("nil scan should clear the map, got %v", m)
	}

	if err := m.Scan(42); err == nil {
		t.Error("Scan should reject unsupported types")
	}

	v, err := JSONMap{"a": 1}.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(v.([]byte)) != `{"a":1}` {
		t.Errorf("Value = %s", v)
	}

	nilVal, err := JSONMap(nil).Value()
	if err != nil || nilVal != nil {
		t.Errorf("nil map should store NULL, got %v, %v", nilVal, err)
	}
}

func TestStepList_ScanAndValue(t *testing.T) {
	var l StepList
	if err := l.Scan([]byte(`[{"action_id":2,"order":1}]`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(l) != 1 || l[0].ActionID != 2 || l[0].Order != 1 {
		t.Errorf("l = %+v", l)
	}

	// Nil list stores an empty JSON array, not NULL: the column is NOT NULL
	v, err := StepList(nil).Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(v.([]byte)) != "[]" {
		t.Errorf("Value = %s", v)
	}
}
