package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/ingest/netflow"
	"github.com/edgewatch/edgewatch/pkg/ingest/syslog"
	"github.com/edgewatch/edgewatch/pkg/metrics"
	"github.com/edgewatch/edgewatch/pkg/schema"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// maxDeadLetterBytes caps the raw payload stored with a dead-letter entry.
const maxDeadLetterBytes = 10000

// Config holds the ingestion service settings.
type Config struct {
	SyslogAddr  string
	NetflowAddr string
	Workers     int

	SyslogIndexPrefix     string
	NetflowIndexPrefix    string
	DeadLetterIndexPrefix string
}

// withDefaults fills unset prefixes so a zero Config still routes somewhere
// sensible.
func (c Config) withDefaults() Config {
	if c.SyslogIndexPrefix == "" {
		c.SyslogIndexPrefix = eventstore.SyslogIndexPrefix
	}
	if c.NetflowIndexPrefix == "" {
		c.NetflowIndexPrefix = eventstore.NetflowIndexPrefix
	}
	if c.DeadLetterIndexPrefix == "" {
		c.DeadLetterIndexPrefix = eventstore.DeadLetterIndexPrefix
	}
	if c.Workers < 1 {
		c.Workers = 4
	}
	return c
}

// EventWriter is the slice of the document store the ingestion path needs.
type EventWriter interface {
	WriteEvent(ctx context.Context, ev *schema.CommonEvent, prefix string) error
}

// Service owns the two UDP listeners and the parse/normalize/write pipeline
// behind them.
type Service struct {
	cfg     Config
	writer  EventWriter
	netflow *netflow.Parser
	log     *logrus.Entry

	syslogListener  *UDPListener
	netflowListener *UDPListener

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires the listeners to their handlers. Nothing listens until
// Start.
func NewService(cfg Config, writer EventWriter) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		writer:  writer,
		netflow: netflow.NewParser(),
		log:     util.WithComponent("ingest"),
	}
	s.syslogListener = NewUDPListener("syslog", s.cfg.SyslogAddr, s.cfg.Workers, s.handleSyslog)
	s.netflowListener = NewUDPListener("netflow", s.cfg.NetflowAddr, s.cfg.Workers, s.handleNetflow)
	return s
}

// Start opens both listeners. If the second fails the first is closed again
// so Start leaves either both or neither running.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.syslogListener.Start(); err != nil {
		s.cancel()
		return fmt.Errorf("start syslog listener: %w", err)
	}
	if err := s.netflowListener.Start(); err != nil {
		s.syslogListener.Stop()
		s.cancel()
		return fmt.Errorf("start netflow listener: %w", err)
	}
	s.log.Info("Ingestion service started")
	return nil
}

// Stop drains both listeners.
func (s *Service) Stop() {
	s.syslogListener.Stop()
	s.netflowListener.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("Ingestion service stopped")
}

// SyslogAddr reports the bound syslog address, for tests and logs.
func (s *Service) SyslogAddr() string { return s.syslogListener.Addr() }

// NetflowAddr reports the bound netflow address.
func (s *Service) NetflowAddr() string { return s.netflowListener.Addr() }

func (s *Service) handleSyslog(raw []byte, addr *net.UDPAddr) {
	now := time.Now().UTC()
	reporterIP := addr.IP.String()
	line := strings.TrimSpace(string(bytes.ToValidUTF8(raw, []byte("�"))))
	if line == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("reporter", reporterIP).Errorf("syslog processing panic: %v", r)
			s.deadLetter(line, reporterIP, schema.TypeSyslogProcessingError, fmt.Sprint(r))
		}
	}()

	parsed := syslog.Parse(line, reporterIP, addr.Port, now)
	if parsed == nil {
		metrics.ParseFailures.WithLabelValues("syslog").Inc()
		s.log.WithField("reporter", reporterIP).Debugf("Unparseable syslog line: %.200s", line)
		s.deadLetter(line, reporterIP, schema.TypeSyslogParsingFailed, "")
		return
	}

	ev, err := syslog.Normalize(parsed, now)
	if err != nil {
		s.deadLetter(line, reporterIP, schema.TypeSyslogNormalizationFailed, err.Error())
		return
	}
	s.write(ev, s.cfg.SyslogIndexPrefix, "syslog")
}

func (s *Service) handleNetflow(raw []byte, addr *net.UDPAddr) {
	now := time.Now().UTC()
	exporterIP := addr.IP.String()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("exporter", exporterIP).Errorf("netflow processing panic: %v", r)
			s.deadLetter(fmt.Sprintf("Raw packet size: %d", len(raw)), exporterIP,
				schema.TypeNetflowProcessingError, fmt.Sprint(r))
		}
	}()

	recs, err := s.netflow.Parse(raw, exporterIP, addr.Port)
	if err != nil {
		// Malformed or template-less packets are logged and counted but not
		// dead-lettered; exporters resend templates on their own schedule.
		metrics.ParseFailures.WithLabelValues("netflow").Inc()
		s.log.WithField("exporter", exporterIP).WithError(err).Warn("Failed to decode netflow packet")
		return
	}

	for _, rec := range recs {
		ev, err := netflow.Normalize(rec, now)
		if err != nil {
			s.deadLetter(describeFlow(rec), exporterIP, schema.TypeNetflowNormalizationFailed, err.Error())
			continue
		}
		s.write(ev, s.cfg.NetflowIndexPrefix, "netflow")
	}
}

func (s *Service) write(ev *schema.CommonEvent, prefix, source string) {
	if err := s.writer.WriteEvent(s.ctx, ev, prefix); err != nil {
		metrics.EventWriteFailures.WithLabelValues(source).Inc()
		s.log.WithField("source", source).WithError(err).Error("Failed to write event")
		return
	}
	metrics.EventsWritten.WithLabelValues(source).Inc()
}

// deadLetter files an unprocessable payload in the dead-letter index so it
// can be inspected later.
func (s *Service) deadLetter(raw, reporterIP, eventType, details string) {
	now := time.Now().UTC()
	ev := &schema.CommonEvent{
		Timestamp:          now,
		IngestionTimestamp: now,
		ReporterIP:         reporterIP,
		EventCategory:      schema.CategoryErrorLog,
		EventType:          eventType,
		Message:            fmt.Sprintf("Failed to process log/flow. Type: %s", eventType),
		Tags:               []string{},
		RawLog:             util.Truncate(raw, maxDeadLetterBytes),
	}
	if details != "" {
		ev.AdditionalFields = map[string]interface{}{"error_details": details}
	}
	metrics.DeadLetters.WithLabelValues(eventType).Inc()
	if err := s.writer.WriteEvent(s.ctx, ev, s.cfg.DeadLetterIndexPrefix); err != nil {
		s.log.WithField("type", eventType).WithError(err).Error("Failed to write dead-letter entry")
	}
}

func describeFlow(rec *netflow.FlowRecord) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf("%+v", rec)
	}
	return string(b)
}
