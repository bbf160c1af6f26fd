// Package eventstore wraps the document store holding telemetry events,
// indicators and the dead-letter queue: connection setup, daily-index writes
// and the raw search passthrough used by the correlation engine.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// Index prefixes for the daily indices.
const (
	SyslogIndexPrefix     = "siem-syslog-events"
	NetflowIndexPrefix    = "siem-netflow-events"
	DeadLetterIndexPrefix = "siem-dead-letter-queue"
	IOCIndexPrefix        = "siem-iocs"
	OffenceIndexPrefix    = "siem-offences"
)

// compatMediaType pins requests to the version-8 wire format so the client
// keeps working against both 8.x and newer clusters.
const compatMediaType = "application/vnd.elasticsearch+json;compatible-with=8"

// Config carries the connection settings for the document store. Addresses
// is used for self-hosted clusters; CloudID+APIKey for hosted ones.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	CloudID   string
	APIKey    string
}

// Store is a connected document store client.
type Store struct {
	es *elasticsearch.Client
}

// New builds a client and verifies the cluster answers before returning.
// A store that cannot be reached at startup is reported immediately rather
// than on the first write.
func New(cfg Config) (*Store, error) {
	header := http.Header{}
	header.Set("Accept", compatMediaType)
	header.Set("Content-Type", compatMediaType)

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		CloudID:   cfg.CloudID,
		APIKey:    cfg.APIKey,
		Header:    header,
	})
	if err != nil {
		return nil, fmt.Errorf("create document store client: %w", err)
	}

	s := &Store{es: es}
	if err := s.Ping(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping checks cluster reachability.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Info(s.es.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrNotConnected, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: cluster info: %s", util.ErrNotConnected, res.Status())
	}

	var info struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return fmt.Errorf("%w: decode cluster info: %v", util.ErrNotConnected, err)
	}
	util.WithComponent("eventstore").
		WithField("cluster", info.ClusterName).
		WithField("version", info.Version.Number).
		Info("Connected to document store")
	return nil
}
