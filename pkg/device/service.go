package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/edgewatch/edgewatch/pkg/metrics"
	"github.com/edgewatch/edgewatch/pkg/secrets"
	"github.com/edgewatch/edgewatch/pkg/store"
	"github.com/edgewatch/edgewatch/pkg/util"
)

// Operation outcomes as counted by metrics.DeviceOperations.
const (
	outcomeOK          = "ok"
	outcomeUnreachable = "unreachable"
	outcomeError       = "error"
	outcomeRejected    = "rejected"
)

// A device that fails transport three times in a row gets a cooling-off
// period before anything dials it again.
const (
	breakerThreshold = 3
	breakerCooloff   = time.Minute
)

// Registry is the slice of the device repository the service needs.
type Registry interface {
	Get(ctx context.Context, id int64) (*store.Device, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	RecordConnection(ctx context.Context, id int64, osVersion string) error
	MarkSyslogConfigured(ctx context.Context, id int64) error
	MarkNetflowConfigured(ctx context.Context, id int64) error
}

// Dialer opens a connector session for a device. Swappable for tests.
type Dialer func(ctx context.Context, dev *store.Device, password string) (Connector, error)

// Service runs connector operations against registered devices and keeps
// their status lifecycle in the store: every operation passes through
// configuring and lands on reachable, unreachable, or error.
type Service struct {
	devices Registry
	sealer  *secrets.Sealer
	dial    Dialer
	log     *logrus.Entry

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// NewService builds a device service using the RouterOS dialer.
func NewService(devices Registry, sealer *secrets.Sealer) *Service {
	return &Service{
		devices:  devices,
		sealer:   sealer,
		dial:     dialByType,
		log:      util.WithComponent("device"),
		breakers: make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func dialByType(ctx context.Context, dev *store.Device, password string) (Connector, error) {
	switch dev.DeviceType {
	case store.DeviceTypeMikroTik:
		conn, err := DialRouterOS(ctx, dev.Host, dev.Port, dev.Username, password)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, fmt.Errorf("%w: no connector for device type %q", util.ErrInvalidConfig, dev.DeviceType)
}

// CheckStatus connects, probes system resources, and records the result.
// It runs on disabled devices too: operators need to see whether a box
// answers before re-enabling it. The refreshed row is returned; an
// unreachable device is a finding, not an error.
func (s *Service) CheckStatus(ctx context.Context, id int64) (*store.Device, error) {
	dev, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.runOnDevice(ctx, dev, "check_status", func(ctx context.Context, conn Connector) error {
		return nil // the connect-and-probe in runOnDevice is the check
	}); err != nil {
		s.log.WithFields(logrus.Fields{"device_id": id}).WithError(err).Debug("Status check found device unhealthy")
	}
	return s.devices.Get(ctx, id)
}

// Identity returns /system/identity attributes.
func (s *Service) Identity(ctx context.Context, id int64) (map[string]string, error) {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	var ident map[string]string
	err = s.runOnDevice(ctx, dev, "identity", func(ctx context.Context, conn Connector) error {
		m, err := conn.SystemIdentity(ctx)
		ident = m
		return err
	})
	return ident, err
}

// ConfigureSyslog points the device's remote logging at the collector.
// The action and rule names on the device carry the device's own name so
// several managed routers never collide.
func (s *Service) ConfigureSyslog(ctx context.Context, id int64, cfg SyslogConfig) error {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	cfg.NamePrefix = cfg.NamePrefix + "_" + safeName(dev)

	if err := s.runOnDevice(ctx, dev, "configure_syslog", func(ctx context.Context, conn Connector) error {
		return conn.ConfigureSyslog(ctx, cfg)
	}); err != nil {
		return err
	}
	if err := s.devices.MarkSyslogConfigured(ctx, id); err != nil {
		s.log.WithError(err).Warn("Recording syslog configuration flag failed")
	}
	return nil
}

// ConfigureNetflow points the device's flow export at the collector.
func (s *Service) ConfigureNetflow(ctx context.Context, id int64, cfg NetflowConfig) error {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	if err := s.runOnDevice(ctx, dev, "configure_netflow", func(ctx context.Context, conn Connector) error {
		return conn.ConfigureNetflow(ctx, cfg)
	}); err != nil {
		return err
	}
	if err := s.devices.MarkNetflowConfigured(ctx, id); err != nil {
		s.log.WithError(err).Warn("Recording netflow configuration flag failed")
	}
	return nil
}

// FirewallRules lists the device's filter rules.
func (s *Service) FirewallRules(ctx context.Context, id int64, chain string) ([]map[string]string, error) {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	var rules []map[string]string
	err = s.runOnDevice(ctx, dev, "firewall_rules", func(ctx context.Context, conn Connector) error {
		got, err := conn.FirewallRules(ctx, chain)
		rules = got
		return err
	})
	return rules, err
}

// BlockIP blocks ip on the device's named address list. It satisfies the
// response orchestrator's DeviceActor.
func (s *Service) BlockIP(ctx context.Context, id int64, listName, ip, comment string) error {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return err
	}
	req := BlockRequest{
		ListName:      listName,
		IP:            ip,
		Comment:       comment,
		Chain:         "forward",
		Action:        "drop",
		CommentPrefix: fmt.Sprintf("SIEM_block_%d_", dev.ID),
		PlaceAtTop:    true,
	}
	return s.runOnDevice(ctx, dev, "block_ip", func(ctx context.Context, conn Connector) error {
		return conn.BlockIP(ctx, req)
	})
}

// UnblockIP removes ip from the device's named address list.
func (s *Service) UnblockIP(ctx context.Context, id int64, listName, ip string) error {
	dev, err := s.enabledDevice(ctx, id)
	if err != nil {
		return err
	}
	return s.runOnDevice(ctx, dev, "unblock_ip", func(ctx context.Context, conn Connector) error {
		return conn.UnblockIP(ctx, listName, ip)
	})
}

func (s *Service) enabledDevice(ctx context.Context, id int64) (*store.Device, error) {
	dev, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dev.IsEnabled {
		return nil, fmt.Errorf("%w: device %d is disabled", util.ErrPreconditionFailed, id)
	}
	return dev, nil
}

// runOnDevice is the shared operation shell: mark configuring, unseal
// credentials, dial through the device's circuit breaker, probe system
// resources for the OS version, run the operation, and record the final
// status. Transport failures land on unreachable, device-reported
// failures on error.
func (s *Service) runOnDevice(ctx context.Context, dev *store.Device, op string, fn func(ctx context.Context, conn Connector) error) error {
	log := s.log.WithFields(logrus.Fields{"device_id": dev.ID, "device": dev.Name, "op": op})

	if err := s.devices.UpdateStatus(ctx, dev.ID, store.DeviceConfiguring); err != nil {
		log.WithError(err).Warn("Recording configuring status failed")
	}

	password, err := s.sealer.Open(dev.EncryptedPassword)
	if err != nil {
		if rerr := s.devices.UpdateStatus(ctx, dev.ID, store.DeviceError); rerr != nil {
			log.WithError(rerr).Warn("Recording error status failed")
		}
		metrics.DeviceOperations.WithLabelValues(op, outcomeError).Inc()
		return fmt.Errorf("unsealing credentials for device %d: %w", dev.ID, err)
	}

	var osVersion string
	_, err = s.breakerFor(dev.ID).Execute(func() (interface{}, error) {
		conn, err := s.dial(ctx, dev, password)
		if err != nil {
			return nil, err
		}
		defer conn.Close()

		info, err := conn.SystemResource(ctx)
		if err != nil {
			return nil, err
		}
		osVersion = info["version"]
		return nil, fn(ctx, conn)
	})

	switch {
	case err == nil:
		if osVersion == "" {
			osVersion = dev.OSVersion
		}
		if rerr := s.devices.RecordConnection(ctx, dev.ID, osVersion); rerr != nil {
			log.WithError(rerr).Warn("Recording connection failed")
		}
		if rerr := s.devices.UpdateStatus(ctx, dev.ID, store.DeviceReachable); rerr != nil {
			log.WithError(rerr).Warn("Recording reachable status failed")
		}
		metrics.DeviceOperations.WithLabelValues(op, outcomeOK).Inc()
		log.Info("Device operation succeeded")
		return nil

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		// The breaker only opens on transport failures, so unreachable is
		// still the honest status even though nothing dialed this time.
		if rerr := s.devices.UpdateStatus(ctx, dev.ID, store.DeviceUnreachable); rerr != nil {
			log.WithError(rerr).Warn("Recording unreachable status failed")
		}
		metrics.DeviceOperations.WithLabelValues(op, outcomeRejected).Inc()
		log.Warn("Device circuit open; operation rejected")
		return fmt.Errorf("%w: device %d circuit open", util.ErrPreconditionFailed, dev.ID)

	default:
		status := store.DeviceError
		outcome := outcomeError
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			status = store.DeviceUnreachable
			outcome = outcomeUnreachable
		}
		if rerr := s.devices.UpdateStatus(ctx, dev.ID, status); rerr != nil {
			log.WithError(rerr).Warn("Recording failure status failed")
		}
		metrics.DeviceOperations.WithLabelValues(op, outcome).Inc()
		log.WithError(err).Error("Device operation failed")
		return fmt.Errorf("%s on device %d: %w", op, dev.ID, err)
	}
}

// breakerFor returns the device's circuit breaker, creating it on first
// use. Only transport failures trip it: a router that answers with a
// trap is reachable, just unhappy.
func (s *Service) breakerFor(id int64) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[id]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    fmt.Sprintf("device-%d", id),
			Timeout: breakerCooloff,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= breakerThreshold
			},
			IsSuccessful: func(err error) bool {
				var connErr *ConnectionError
				return !errors.As(err, &connErr)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Info("Device circuit state changed")
			},
		})
		s.breakers[id] = cb
	}
	return cb
}

// safeName flattens a device name into an identifier usable in router
// object names.
func safeName(dev *store.Device) string {
	if dev.Name == "" {
		return strconv.FormatInt(dev.ID, 10)
	}
	var b strings.Builder
	for _, r := range dev.Name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
