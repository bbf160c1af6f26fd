package store

import (
	"time"

	"github.com/lib/pq"
)

// Offence severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Offence statuses
const (
	OffenceNew                 = "new"
	OffenceInProgress          = "in_progress"
	OffenceClosedFalsePositive = "closed_false_positive"
	OffenceClosedTruePositive  = "closed_true_positive"
	OffenceClosedOther         = "closed_other"
)

// Correlation rule types
const (
	RuleIOCMatchIP                = "IOC_MATCH_IP"
	RuleThresholdLoginFailures    = "THRESHOLD_LOGIN_FAILURES"
	RuleThresholdDataExfiltration = "THRESHOLD_DATA_EXFILTRATION"
)

// Response action types
const (
	ActionBlockIP      = "block_ip"
	ActionUnblockIP    = "unblock_ip"
	ActionSendEmail    = "send_email"
	ActionCreateTicket = "create_ticket"
	ActionIsolateHost  = "isolate_host"
)

// Device statuses
const (
	DeviceUnknown     = "unknown"
	DeviceConfiguring = "configuring"
	DeviceReachable   = "reachable"
	DeviceUnreachable = "unreachable"
	DeviceError       = "error"
)

// Device types
const (
	DeviceTypeMikroTik = "mikrotik_routeros"
)

// IoC source types
const (
	SourceMISP          = "misp"
	SourceOpenCTI       = "opencti"
	SourceSTIXFeed      = "stix_feed"
	SourceCSVURL        = "csv_url"
	SourceInternal      = "internal"
	SourceMockAPTReport = "mock_apt_report"
)

// APTGroup is a tracked threat actor. Deleting one scrubs its id from
// every IoC document's attribution list before the row goes away.
type APTGroup struct {
	ID                int64          `db:"id" json:"id"`
	Name              string         `db:"name" json:"name" validate:"required"`
	Aliases           pq.StringArray `db:"aliases" json:"aliases"`
	Description       string         `db:"description" json:"description"`
	Sophistication    string         `db:"sophistication" json:"sophistication"`
	PrimaryMotivation string         `db:"primary_motivation" json:"primary_motivation"`
	TargetSectors     pq.StringArray `db:"target_sectors" json:"target_sectors"`
	CountryOfOrigin   string         `db:"country_of_origin" json:"country_of_origin"`
	FirstObserved     *time.Time     `db:"first_observed" json:"first_observed,omitempty"`
	LastObserved      *time.Time     `db:"last_observed" json:"last_observed,omitempty"`
	ReferenceURLs     pq.StringArray `db:"reference_urls" json:"reference_urls"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// CorrelationRule is a detection definition dispatched by rule_type
type CorrelationRule struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name" validate:"required"`
	Description string `db:"description" json:"description"`
	RuleType    string `db:"rule_type" json:"rule_type" validate:"required,oneof=IOC_MATCH_IP THRESHOLD_LOGIN_FAILURES THRESHOLD_DATA_EXFILTRATION"`
	IsEnabled   bool   `db:"is_enabled" json:"is_enabled"`

	EventSourceType pq.StringArray `db:"event_source_type" json:"event_source_type" validate:"omitempty,dive,oneof=syslog netflow"`

	// IOC_MATCH_IP
	EventFieldToMatch string         `db:"event_field_to_match" json:"event_field_to_match,omitempty"`
	IoCTypeToMatch    string         `db:"ioc_type_to_match" json:"ioc_type_to_match,omitempty"`
	IoCTagsMatch      pq.StringArray `db:"ioc_tags_match" json:"ioc_tags_match,omitempty"`
	IoCMinConfidence  *int           `db:"ioc_min_confidence" json:"ioc_min_confidence,omitempty" validate:"omitempty,gte=0,lte=100"`

	// THRESHOLD_*
	ThresholdCount         *int64         `db:"threshold_count" json:"threshold_count,omitempty"`
	ThresholdWindowMinutes *int           `db:"threshold_time_window_minutes" json:"threshold_time_window_minutes,omitempty"`
	AggregationFields      pq.StringArray `db:"aggregation_fields" json:"aggregation_fields,omitempty"`

	OffenceTitleTemplate string    `db:"generated_offence_title_template" json:"generated_offence_title_template" validate:"required"`
	OffenceSeverity      string    `db:"generated_offence_severity" json:"generated_offence_severity" validate:"required,oneof=low medium high critical"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Offence is a correlation hit requiring analyst attention
type Offence struct {
	ID                     int64         `db:"id" json:"id"`
	Title                  string        `db:"title" json:"title" validate:"required"`
	Description            string        `db:"description" json:"description"`
	Severity               string        `db:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	Status                 string        `db:"status" json:"status" validate:"omitempty,oneof=new in_progress closed_false_positive closed_true_positive closed_other"`
	CorrelationRuleID      *int64        `db:"correlation_rule_id" json:"correlation_rule_id,omitempty"`
	TriggeringEventSummary JSONMap       `db:"triggering_event_summary" json:"triggering_event_summary,omitempty"`
	MatchedIoCDetails      JSONMap       `db:"matched_ioc_details" json:"matched_ioc_details,omitempty"`
	AttributedAPTGroupIDs  pq.Int64Array `db:"attributed_apt_group_ids" json:"attributed_apt_group_ids"`
	DetectedAt             time.Time     `db:"detected_at" json:"detected_at"`
	Notes                  string        `db:"notes" json:"notes"`
	AssignedToUserID       *int64        `db:"assigned_to_user_id" json:"assigned_to_user_id,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// ResponseAction is an executable effect referenced by pipelines
type ResponseAction struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name" validate:"required"`
	Description   string    `db:"description" json:"description"`
	Type          string    `db:"type" json:"type" validate:"required,oneof=block_ip unblock_ip send_email create_ticket isolate_host"`
	IsEnabled     bool      `db:"is_enabled" json:"is_enabled"`
	DefaultParams JSONMap   `db:"default_params" json:"default_params,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// PipelineStep is one entry in a pipeline's actions_config
type PipelineStep struct {
	ActionID       int64                  `json:"action_id"`
	Order          int                    `json:"order"`
	ParamsTemplate map[string]interface{} `json:"action_params_template,omitempty"`
}

// ResponsePipeline is an ordered action plan bound to a correlation rule
type ResponsePipeline struct {
	ID                       int64     `db:"id" json:"id"`
	Name                     string    `db:"name" json:"name" validate:"required"`
	Description              string    `db:"description" json:"description"`
	IsEnabled                bool      `db:"is_enabled" json:"is_enabled"`
	TriggerCorrelationRuleID *int64    `db:"trigger_correlation_rule_id" json:"trigger_correlation_rule_id,omitempty"`
	ActionsConfig            StepList  `db:"actions_config" json:"actions_config"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// Device is a managed network endpoint. The password is sealed by
// pkg/secrets before it reaches this struct.
type Device struct {
	ID                       int64      `db:"id" json:"id"`
	Name                     string     `db:"name" json:"name" validate:"required"`
	Host                     string     `db:"host" json:"host" validate:"required"`
	Port                     int        `db:"port" json:"port" validate:"gte=1,lte=65535"`
	Username                 string     `db:"username" json:"username" validate:"required"`
	EncryptedPassword        string     `db:"encrypted_password" json:"-"`
	DeviceType               string     `db:"device_type" json:"device_type" validate:"required,oneof=mikrotik_routeros"`
	Status                   string     `db:"status" json:"status"`
	IsEnabled                bool       `db:"is_enabled" json:"is_enabled"`
	OSVersion                string     `db:"os_version" json:"os_version"`
	SyslogConfiguredBySIEM   bool       `db:"syslog_configured_by_siem" json:"syslog_configured_by_siem"`
	NetflowConfiguredBySIEM  bool       `db:"netflow_configured_by_siem" json:"netflow_configured_by_siem"`
	LastSuccessfulConnection *time.Time `db:"last_successful_connection" json:"last_successful_connection,omitempty"`
	LastStatusUpdate         *time.Time `db:"last_status_update" json:"last_status_update,omitempty"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at" json:"updated_at"`
}

// IoCSource is a threat feed registration
type IoCSource struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name" validate:"required"`
	Description string     `db:"description" json:"description"`
	SourceType  string     `db:"source_type" json:"source_type" validate:"required,oneof=misp opencti stix_feed csv_url internal mock_apt_report"`
	URL         string     `db:"url" json:"url"`
	IsEnabled   bool       `db:"is_enabled" json:"is_enabled"`
	LastFetched *time.Time `db:"last_fetched" json:"last_fetched,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
