// Package syslog decodes RFC3164-like and vendor-shorthand syslog lines and
// normalizes them into common events.
package syslog

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SeverityNames maps syslog severity codes to their conventional names.
var SeverityNames = map[int]string{
	0: "emergency", 1: "alert", 2: "critical", 3: "error",
	4: "warning", 5: "notice", 6: "informational", 7: "debug",
}

var severityCodes = func() map[string]int {
	m := make(map[string]int, len(SeverityNames))
	for code, name := range SeverityNames {
		m[name] = code
	}
	return m
}()

// Process tags may be comma-separated topic lists ("firewall,info"), plain
// program names ("sshd"), or carry a pid suffix ("sshd[1234]").
var (
	rfc3164Re = regexp.MustCompile(`^<(?P<priority>\d+)>(?P<ts>\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(?P<hostname>[\w\-.]+)\s+(?P<tag>(?P<prog>[\w\-/.,]+)(\[(?P<pid>\d+)\])?)?:\s*(?P<msg>.+)$`)
	genericRe = regexp.MustCompile(`^<(?P<priority>\d+)>(?P<ts>\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(?P<hostname>[\w\-.]+)\s+(?P<msg>.+)$`)
	topicsRe  = regexp.MustCompile(`^(?P<topics>[a-zA-Z0-9\-_,]+)\s+(?P<msg>.+)$`)
	tagRe     = regexp.MustCompile(`^(?P<prog>[\w\-/.,]+)(\[(?P<pid>\d+)\])?$`)
	spacesRe  = regexp.MustCompile(`\s+`)
)

// Parsed is the decoded form of a single syslog line. Priority, Facility and
// Severity are nil for formats that do not carry a PRI field.
type Parsed struct {
	Priority    *int
	Facility    *int
	Severity    *int
	Timestamp   time.Time
	Hostname    string
	ProcessTag  string
	ProcessName string
	PID         string
	Message     string

	ReporterIP   string
	ReporterPort int
	RawLog       string

	TimestampParseError string
}

// Parse decodes line into a Parsed record, attempting the RFC3164 form, the
// generic tagless form, and the topic-prefixed vendor shorthand, in that
// order. Returns nil when no format matches. The RFC3164 encodings carry no
// year; the current UTC year of now is attached, stepping back one year when
// that lands the timestamp more than a day in the future.
func Parse(line, reporterIP string, reporterPort int, now time.Time) *Parsed {
	p := &Parsed{
		ReporterIP:   reporterIP,
		ReporterPort: reporterPort,
		RawLog:       line,
	}

	if m := match(rfc3164Re, line); m != nil {
		p.Hostname = m["hostname"]
		p.ProcessTag = m["tag"]
		p.ProcessName = m["prog"]
		p.PID = m["pid"]
		p.Message = m["msg"]
		applyPriority(p, m["priority"])
		applyTimestamp(p, m["ts"], now)
		return p
	}

	if m := match(genericRe, line); m != nil {
		p.Hostname = m["hostname"]
		p.Message = m["msg"]
		recoverTag(p)
		applyPriority(p, m["priority"])
		applyTimestamp(p, m["ts"], now)
		return p
	}

	if m := match(topicsRe, line); m != nil {
		p.Timestamp = now.UTC()
		p.Hostname = reporterIP
		if p.Hostname == "" {
			p.Hostname = "unknown_reporter_host"
		}
		p.ProcessTag = m["topics"]
		p.Message = m["msg"]
		for _, topic := range strings.Split(p.ProcessTag, ",") {
			if code, ok := severityCodes[strings.ToLower(strings.TrimSpace(topic))]; ok {
				sev := code
				p.Severity = &sev
				break
			}
		}
		return p
	}

	return nil
}

func match(re *regexp.Regexp, line string) map[string]string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups
}

func applyPriority(p *Parsed, priority string) {
	v, err := strconv.Atoi(priority)
	if err != nil {
		return
	}
	facility := v / 8
	severity := v % 8
	p.Priority = &v
	p.Facility = &facility
	p.Severity = &severity
}

func applyTimestamp(p *Parsed, ts string, now time.Time) {
	cleaned := spacesRe.ReplaceAllString(strings.TrimSpace(ts), " ")
	year := now.UTC().Year()
	parsed, err := time.Parse("2006 Jan 2 15:04:05", strconv.Itoa(year)+" "+cleaned)
	if err != nil {
		p.Timestamp = now.UTC()
		p.TimestampParseError = err.Error()
		return
	}
	// Syslog timestamps carry no year. Around new year a December log can
	// arrive in January; a parse landing in the future means it belongs to
	// the previous year.
	if parsed.After(now.UTC().Add(24 * time.Hour)) {
		parsed = parsed.AddDate(-1, 0, 0)
	}
	p.Timestamp = parsed
}

// recoverTag extracts a process tag from the leading word of the message when
// it looks tag-shaped (no whitespace, shorter than 50 chars, optional [pid]).
func recoverTag(p *Parsed) {
	before, after, found := strings.Cut(p.Message, ":")
	if !found {
		return
	}
	candidate := strings.TrimSpace(before)
	if candidate == "" || len(candidate) >= 50 || strings.ContainsAny(candidate, " \t") {
		return
	}
	m := tagRe.FindStringSubmatch(candidate)
	if m == nil {
		return
	}
	p.ProcessTag = candidate
	for i, name := range tagRe.SubexpNames() {
		switch name {
		case "prog":
			p.ProcessName = m[i]
		case "pid":
			p.PID = m[i]
		}
	}
	p.Message = strings.TrimSpace(after)
}
