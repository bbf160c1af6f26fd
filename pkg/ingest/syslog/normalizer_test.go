package syslog

import (
	"testing"
	"time"

	"github.com/edgewatch/edgewatch/pkg/schema"
)

var normNow = time.Date(2026, time.May, 31, 12, 0, 0, 0, time.UTC)

func TestNormalizeFirewallDrop(t *testing.T) {
	line := "<78>May 31 10:10:32 MikrotikRouter firewall,info: input: in:ether1 out:(none), src-mac 00:0c:29:11:22:33, proto TCP (SYN), 192.168.1.100:12345->192.168.88.1:80, len 52"

	p := Parse(line, "192.168.88.1", 514, normNow)
	if p == nil {
		t.Fatal("Parse returned nil")
	}
	ev, err := Normalize(p, normNow)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if ev.EventCategory != schema.CategoryFirewall {
		t.Errorf("EventCategory = %q, want firewall", ev.EventCategory)
	}
	if ev.EventAction != "denied" {
		t.Errorf("EventAction = %q, want denied", ev.EventAction)
	}
	if ev.EventOutcome != schema.OutcomeFailure {
		t.Errorf("EventOutcome = %q, want failure", ev.EventOutcome)
	}
	if ev.SourceIP != "192.168.1.100" {
		t.Errorf("SourceIP = %q, want 192.168.1.100", ev.SourceIP)
	}
	if ev.DestinationIP != "192.168.88.1" {
		t.Errorf("DestinationIP = %q, want 192.168.88.1", ev.DestinationIP)
	}
	if ev.SyslogFacility == nil || *ev.SyslogFacility != 9 {
		t.Errorf("SyslogFacility = %v, want 9", ev.SyslogFacility)
	}
	if ev.SyslogSeverityCode == nil || *ev.SyslogSeverityCode != 6 {
		t.Errorf("SyslogSeverityCode = %v, want 6", ev.SyslogSeverityCode)
	}
	if ev.SyslogSeverityName != "informational" {
		t.Errorf("SyslogSeverityName = %q, want informational", ev.SyslogSeverityName)
	}
	if ev.DeviceVendor != "Mikrotik" || ev.DeviceProduct != "RouterOS" {
		t.Errorf("vendor/product = %q/%q", ev.DeviceVendor, ev.DeviceProduct)
	}
	if ev.RawLog != line {
		t.Error("RawLog should carry the original line")
	}
}

func TestNormalizeFirewallVerbs(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		wantAction  string
		wantOutcome string
	}{
		{"drop", "drop input: proto TCP, 10.0.0.1:1->10.0.0.2:2", "denied", schema.OutcomeFailure},
		{"accept", "accept forward: proto UDP, 10.0.0.1:1->10.0.0.2:2", "allowed", schema.OutcomeSuccess},
		{"reject", "reject input: proto TCP, 10.0.0.1:1->10.0.0.2:2", "denied", schema.OutcomeFailure},
		{"no verb defaults to denied", "input: proto TCP, 10.0.0.1:1->10.0.0.2:2", "denied", schema.OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Parsed{
				Timestamp:  normNow,
				Hostname:   "gw",
				ProcessTag: "firewall,info",
				Message:    tt.message,
				ReporterIP: "10.0.0.254",
				RawLog:     "firewall,info " + tt.message,
			}
			ev, err := Normalize(p, normNow)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if ev.EventAction != tt.wantAction {
				t.Errorf("EventAction = %q, want %q", ev.EventAction, tt.wantAction)
			}
			if ev.EventOutcome != tt.wantOutcome {
				t.Errorf("EventOutcome = %q, want %q", ev.EventOutcome, tt.wantOutcome)
			}
		})
	}
}

func TestNormalizeAuthentication(t *testing.T) {
	tests := []struct {
		name        string
		tag         string
		message     string
		wantOutcome string
	}{
		{"successful login", "system,info,account", "user admin logged in from 192.168.1.50 via ssh", schema.OutcomeSuccess},
		{"login failure", "system,error,critical", "login failure for user root from 10.9.9.9 via ssh", schema.OutcomeFailure},
		{"logged in but failed", "system,info", "user admin logged in failed", schema.OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Parsed{
				Timestamp:  normNow,
				Hostname:   "gw",
				ProcessTag: tt.tag,
				Message:    tt.message,
				ReporterIP: "192.168.88.1",
				RawLog:     tt.tag + " " + tt.message,
			}
			ev, err := Normalize(p, normNow)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if ev.EventCategory != schema.CategoryAuthentication {
				t.Errorf("EventCategory = %q, want authentication", ev.EventCategory)
			}
			if ev.EventType != "user_login_attempt" {
				t.Errorf("EventType = %q, want user_login_attempt", ev.EventType)
			}
			if ev.EventOutcome != tt.wantOutcome {
				t.Errorf("EventOutcome = %q, want %q", ev.EventOutcome, tt.wantOutcome)
			}
		})
	}
}

func TestNormalizeSystemCategory(t *testing.T) {
	p := &Parsed{
		Timestamp:  normNow,
		Hostname:   "gw",
		ProcessTag: "system,info",
		Message:    "system identity changed by admin",
		ReporterIP: "192.168.88.1",
		RawLog:     "system,info system identity changed by admin",
	}
	ev, err := Normalize(p, normNow)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if ev.EventCategory != schema.CategorySystem {
		t.Errorf("EventCategory = %q, want system", ev.EventCategory)
	}
	if got := ev.AdditionalFields["parsed_process_tag"]; got != "system,info" {
		t.Errorf("AdditionalFields[parsed_process_tag] = %v, want system,info", got)
	}
}

func TestNormalizeNilParse(t *testing.T) {
	if _, err := Normalize(nil, normNow); err == nil {
		t.Error("Normalize(nil) should error")
	}
}
