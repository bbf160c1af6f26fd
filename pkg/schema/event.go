// Package schema defines the normalized telemetry record emitted by the
// ingestion normalizers and consumed by the document store and the
// correlation engine.
package schema

import "time"

// Event categories.
const (
	CategoryNetwork        = "network"
	CategoryAuthentication = "authentication"
	CategoryFirewall       = "firewall"
	CategorySystem         = "system"
	CategoryErrorLog       = "error_log"
)

// Event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// Dead-letter event types.
const (
	TypeSyslogParsingFailed        = "syslog_parsing_failed"
	TypeSyslogNormalizationFailed  = "syslog_normalization_failed"
	TypeSyslogProcessingError      = "syslog_processing_error"
	TypeNetflowNormalizationFailed = "netflow_normalization_failed"
	TypeNetflowProcessingError     = "netflow_processing_error"
)

// CommonEvent is the normalized telemetry record. Field names follow the
// document mapping of the events indices; optional numerics are pointers so
// zero values survive serialization.
type CommonEvent struct {
	Timestamp          time.Time `json:"timestamp"`
	IngestionTimestamp time.Time `json:"ingestion_timestamp"`

	ReporterIP   string `json:"reporter_ip,omitempty"`
	ReporterPort *int   `json:"reporter_port,omitempty"`
	Hostname     string `json:"hostname,omitempty"`

	DeviceVendor  string `json:"device_vendor,omitempty"`
	DeviceProduct string `json:"device_product,omitempty"`
	DeviceVersion string `json:"device_version,omitempty"`

	EventCategory string `json:"event_category"`
	EventType     string `json:"event_type"`
	EventAction   string `json:"event_action,omitempty"`
	EventOutcome  string `json:"event_outcome,omitempty"`

	SyslogFacility     *int   `json:"syslog_facility,omitempty"`
	SyslogSeverityCode *int   `json:"syslog_severity_code,omitempty"`
	SyslogSeverityName string `json:"syslog_severity_name,omitempty"`
	ProcessName        string `json:"process_name,omitempty"`
	ProcessID          string `json:"process_id,omitempty"`

	Message string `json:"message,omitempty"`

	FlowStartTime            *time.Time `json:"flow_start_time,omitempty"`
	FlowEndTime              *time.Time `json:"flow_end_time,omitempty"`
	FlowDurationMilliseconds *int64     `json:"flow_duration_milliseconds,omitempty"`

	SourceIP   string `json:"source_ip,omitempty"`
	SourcePort *int   `json:"source_port,omitempty"`
	SourceMAC  string `json:"source_mac,omitempty"`

	DestinationIP   string `json:"destination_ip,omitempty"`
	DestinationPort *int   `json:"destination_port,omitempty"`
	DestinationMAC  string `json:"destination_mac,omitempty"`

	NetworkProtocol       string `json:"network_protocol,omitempty"`
	NetworkProtocolNumber *int   `json:"network_protocol_number,omitempty"`

	NetworkBytesTotal   *int64 `json:"network_bytes_total,omitempty"`
	NetworkPacketsTotal *int64 `json:"network_packets_total,omitempty"`

	NetworkTCPFlagsStr string `json:"network_tcp_flags_str,omitempty"`
	NetworkTCPFlagsHex string `json:"network_tcp_flags_hex,omitempty"`

	NetworkTOS *int `json:"network_tos,omitempty"`

	NetworkInputInterfaceID  string `json:"network_input_interface_id,omitempty"`
	NetworkOutputInterfaceID string `json:"network_output_interface_id,omitempty"`

	SourceAS      *int `json:"source_as,omitempty"`
	DestinationAS *int `json:"destination_as,omitempty"`

	SourceMaskBits      *int `json:"source_mask_bits,omitempty"`
	DestinationMaskBits *int `json:"destination_mask_bits,omitempty"`

	Tags             []string               `json:"tags"`
	RawLog           string                 `json:"raw_log"`
	AdditionalFields map[string]interface{} `json:"additional_fields,omitempty"`
}

// Int returns a pointer to v, for optional numeric fields.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v, for optional counter fields.
func Int64(v int64) *int64 { return &v }

// Time returns a pointer to t, for optional timestamps.
func Time(t time.Time) *time.Time { return &t }
