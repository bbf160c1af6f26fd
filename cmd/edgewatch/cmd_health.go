package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/cli"
	"github.com/edgewatch/edgewatch/pkg/correlation"
	"github.com/edgewatch/edgewatch/pkg/secrets"
)

type healthResult struct {
	Service string `json:"service"`
	Target  string `json:"target"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backing services",
		Long: `Check that PostgreSQL, Elasticsearch and Redis answer. Redis is optional;
without it the correlation engine just stops suppressing duplicate
offences.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var results []healthResult
			check := func(service, target string, err error) {
				r := healthResult{Service: service, Target: target, Healthy: err == nil}
				if err != nil {
					r.Error = err.Error()
				}
				results = append(results, r)
			}

			if st, err := openStore(); err != nil {
				check("postgresql", cfg.RedactedDatabaseURL(), err)
			} else {
				check("postgresql", cfg.RedactedDatabaseURL(), st.Ping(ctx))
				st.Close()
			}

			if docs, err := openDocs(); err != nil {
				check("elasticsearch", cfg.Elasticsearch.Address(), err)
			} else {
				check("elasticsearch", cfg.Elasticsearch.Address(), docs.Ping(ctx))
			}

			cooldown := correlation.NewCooldown(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			check("redis", cfg.Redis.Addr, cooldown.Ping(ctx))
			cooldown.Close()

			if jsonOutput {
				return printJSON(results)
			}

			t := cli.NewTable("SERVICE", "TARGET", "STATUS")
			failed := 0
			for _, r := range results {
				status := green("ok")
				if !r.Healthy {
					status = red(r.Error)
					failed++
				}
				t.Row(r.Service, r.Target, status)
			}
			t.Flush()
			if failed > 0 {
				return fmt.Errorf("%d of %d services unhealthy", failed, len(results))
			}
			return nil
		},
	}
}

func newGenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate an encryption key for device credentials",
		Long: `Generate a fresh 32-byte key, url-safe base64 encoded, for ENCRYPTION_KEY.
Rotating the key makes existing sealed passwords unreadable; re-set every
device password after a rotation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}
