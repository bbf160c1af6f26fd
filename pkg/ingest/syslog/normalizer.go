package syslog

import (
	"errors"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/pkg/schema"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// Vendor identity attached to syslog events. The shorthand topic format and
// the firewall log layout are RouterOS-specific.
const (
	deviceVendor  = "Mikrotik"
	deviceProduct = "RouterOS"
)

// Normalize converts a parsed syslog record into a CommonEvent, applying the
// classification heuristics for firewall, authentication and system logs.
// Firewall logs without an explicit verb are treated as denied: routers
// managed here log packets on their drop rules.
func Normalize(p *Parsed, ingestion time.Time) (*schema.CommonEvent, error) {
	if p == nil {
		return nil, errors.New("nothing parsed")
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = ingestion
	}

	ev := &schema.CommonEvent{
		Timestamp:          ts.UTC(),
		IngestionTimestamp: ingestion.UTC(),
		ReporterIP:         p.ReporterIP,
		Hostname:           p.Hostname,
		DeviceVendor:       deviceVendor,
		DeviceProduct:      deviceProduct,
		EventCategory:      schema.CategoryNetwork,
		EventType:          "flow",
		SyslogFacility:     p.Facility,
		SyslogSeverityCode: p.Severity,
		ProcessName:        p.ProcessName,
		ProcessID:          p.PID,
		Message:            p.Message,
		RawLog:             p.RawLog,
		Tags:               []string{},
		AdditionalFields:   map[string]interface{}{},
	}
	if p.ReporterPort != 0 {
		ev.ReporterPort = schema.Int(p.ReporterPort)
	}
	if p.Severity != nil {
		ev.SyslogSeverityName = SeverityNames[*p.Severity]
	}

	tag := strings.ToLower(p.ProcessTag)
	msg := strings.ToLower(p.Message)

	switch {
	case strings.Contains(tag, "firewall") || strings.Contains(msg, "drop input") || strings.Contains(msg, "allow input"):
		ev.EventCategory = schema.CategoryFirewall
		switch {
		case strings.Contains(msg, "drop"):
			ev.EventAction = "denied"
			ev.EventOutcome = schema.OutcomeFailure
		case strings.Contains(msg, "accept") || strings.Contains(msg, "allow"):
			ev.EventAction = "allowed"
			ev.EventOutcome = schema.OutcomeSuccess
		case strings.Contains(msg, "reject"):
			ev.EventAction = "denied"
			ev.EventOutcome = schema.OutcomeFailure
		default:
			ev.EventAction = "denied"
			ev.EventOutcome = schema.OutcomeFailure
		}
		ips := util.ExtractIPv4s(p.Message)
		if len(ips) >= 1 {
			ev.SourceIP = ips[0]
		}
		if len(ips) >= 2 {
			ev.DestinationIP = ips[1]
		}

	case strings.Contains(tag, "login") || strings.Contains(msg, "logged in") || strings.Contains(msg, "login failure"):
		ev.EventCategory = schema.CategoryAuthentication
		ev.EventType = "user_login_attempt"
		if strings.Contains(msg, "logged in") && !strings.Contains(msg, "failed") {
			ev.EventOutcome = schema.OutcomeSuccess
		} else {
			ev.EventOutcome = schema.OutcomeFailure
		}

	case strings.Contains(tag, "system"):
		ev.EventCategory = schema.CategorySystem
	}

	if p.ProcessTag != "" {
		ev.AdditionalFields["parsed_process_tag"] = p.ProcessTag
	}
	if p.TimestampParseError != "" {
		ev.AdditionalFields["parsed_timestamp_parse_error"] = p.TimestampParseError
	}
	if len(ev.AdditionalFields) == 0 {
		ev.AdditionalFields = nil
	}

	return ev, nil
}
