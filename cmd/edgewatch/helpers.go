package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/edgewatch/edgewatch/pkg/device"
	"github.com/edgewatch/edgewatch/pkg/eventstore"
	"github.com/edgewatch/edgewatch/pkg/indicator"
	"github.com/edgewatch/edgewatch/pkg/secrets"
	"github.com/edgewatch/edgewatch/pkg/store"
)

func openStore() (*store.Store, error) {
	return store.Open(cfg.DatabaseURL)
}

func openDocs() (*eventstore.Store, error) {
	return eventstore.New(eventstore.Config{
		Addresses: []string{cfg.Elasticsearch.Address()},
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
	})
}

func newSealer() (*secrets.Sealer, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	return secrets.NewSealer(key)
}

// withStore opens the relational store for one command invocation.
func withStore(fn func(ctx context.Context, st *store.Store) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

// withIndicators opens the document store and the relational store the
// indicator service needs for attribution lookups.
func withIndicators(fn func(ctx context.Context, st *store.Store, iocs *indicator.Service) error) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		docs, err := openDocs()
		if err != nil {
			return err
		}
		return fn(ctx, st, indicator.NewService(docs, st.APTGroups))
	})
}

// withDevices opens the relational store and a device service over it.
// Commands that talk to routers need the encryption key configured.
func withDevices(fn func(ctx context.Context, st *store.Store, svc *device.Service) error) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		sealer, err := newSealer()
		if err != nil {
			return err
		}
		return fn(ctx, st, device.NewService(st.Devices, sealer))
	})
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// promptPassword reads a password without echo. Piped stdin falls back to
// a plain line read so scripted use keeps working.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// formatTime renders an optional timestamp for table cells.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// optString returns a pointer when the flag changed, nil otherwise.
// Repositories treat nil patch fields as "keep".
func optString(changed bool, v string) *string {
	if !changed {
		return nil
	}
	return &v
}

func optInt64(changed bool, v int64) *int64 {
	if !changed {
		return nil
	}
	return &v
}
