package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edgewatch/edgewatch/pkg/correlation"
	"github.com/edgewatch/edgewatch/pkg/device"
	"github.com/edgewatch/edgewatch/pkg/ingest"
	"github.com/edgewatch/edgewatch/pkg/response"
	"github.com/edgewatch/edgewatch/pkg/util"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SIEM server",
		Long: `Run the SIEM server: syslog and NetFlow listeners, the correlation
scheduler, response pipelines and the metrics endpoint. Stops cleanly on
SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := util.WithComponent("serve")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	docs, err := openDocs()
	if err != nil {
		return err
	}
	if err := docs.EnsureIoCIndexTemplate(ctx); err != nil {
		return err
	}

	// Response: device actor only when the encryption key is configured;
	// without it block/unblock steps report a precondition failure and the
	// rest of each pipeline still runs.
	orch := response.NewOrchestrator(st.Pipelines, st.Actions, nil)
	if sealer, err := newSealer(); err != nil {
		log.WithError(err).Warn("Device response actions disabled")
	} else {
		orch.SetDeviceActor(device.NewService(st.Devices, sealer))
	}

	cooldown := correlation.NewCooldown(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer cooldown.Close()
	if err := cooldown.Ping(ctx); err != nil {
		log.WithError(err).Warn("Offence cooldown store unreachable; duplicate suppression disabled until it returns")
	}

	engine := correlation.NewEngine(st.Rules, st.Offences, docs, cooldown)
	engine.SetResponder(orch)

	ingestSvc := ingest.NewService(ingest.Config{
		SyslogAddr:  cfg.Ingest.SyslogAddr,
		NetflowAddr: cfg.Ingest.NetflowAddr,
		Workers:     cfg.Ingest.Workers,
	}, docs)
	if err := ingestSvc.Start(ctx); err != nil {
		return err
	}
	defer ingestSvc.Stop()

	log.WithFields(cfg.LogFields()).Info("Edgewatch server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx, cfg.Correlation.Interval.Std())
	})
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			log.WithField("addr", cfg.Metrics.Addr).Info("Metrics endpoint listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Edgewatch server stopped")
	return nil
}
