package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/config"
	"github.com/peteski22/sfbridge/internal/httpapi"
	"github.com/peteski22/sfbridge/internal/logging"
	"github.com/peteski22/sfbridge/internal/storage"
	"github.com/peteski22/sfbridge/internal/sync"
)

// localOptions holds the flags of the run command.
type localOptions struct {
	dryRun   bool
	file     string
	logLevel string
	since    time.Time
}

// parseLocalOptions parses the run command flags.
func parseLocalOptions(args []string, stderr io.Writer) (localOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts localOptions
	var since string
	fs.BoolVar(&opts.dryRun, "dry-run", false, "log writes instead of sending them to Salesforce")
	fs.StringVar(&opts.file, "file", "", "path to a JSON sync request, or - for stdin")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&since, "since", "", "RFC3339 timestamp reported as the previous sync time")

	if err := fs.Parse(args); err != nil {
		return localOptions{}, err
	}
	if opts.file == "" {
		return localOptions{}, errors.New("-file is required")
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return localOptions{}, fmt.Errorf("parsing -since: %w", err)
		}
		opts.since = t
	}

	return opts, nil
}

// readRequest decodes a sync request from path, or from stdin when path is "-".
func readRequest(path string, stdin io.Reader) (sync.Request, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return sync.Request{}, fmt.Errorf("opening request file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var req sync.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return sync.Request{}, fmt.Errorf("decoding request: %w", err)
	}
	if len(req.Events) == 0 {
		return sync.Request{}, errors.New("request has no events")
	}

	return req, nil
}

// runLocal syncs a request file using the local config and token file.
func runLocal(ctx context.Context, args []string) error {
	opts, err := parseLocalOptions(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stderr, opts.logLevel, "text")

	req, err := readRequest(opts.file, os.Stdin)
	if err != nil {
		return err
	}

	e := engine{
		DryRun: opts.dryRun,
		Logger: logger,
		State:  storage.NewNoopStateStore(opts.since, logger),
		Sync:   cfg.Sync,
	}

	if opts.dryRun {
		e.API, e.Records = bulk.NewDryRun(logger)
	} else {
		tokenPath, err := config.TokenFilePath()
		if err != nil {
			return fmt.Errorf("getting token path: %w", err)
		}
		tokenStore, err := storage.NewFileTokenStore(tokenPath)
		if err != nil {
			return fmt.Errorf("creating token store: %w", err)
		}
		client, err := newSalesforceClient(cfg.Salesforce, tokenStore)
		if err != nil {
			return err
		}
		e.API, e.Records = client, client
	}

	service, err := newService(e)
	if err != nil {
		return err
	}

	result, err := service.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("running sync: %w", err)
	}

	return writeResult(os.Stdout, result)
}

// writeResult prints result as indented JSON.
func writeResult(w io.Writer, result *sync.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// runServe serves the sync API using the environment configuration.
func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(settings.Logging.Level, settings.Logging.Format)

	app, err := newAWSApp(ctx, settings, logger)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	server, err := httpapi.New(httpapi.Config{
		Jobs:   app.ledger,
		Logger: logger,
		Runner: app.service,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := server.ListenAndServe(ctx, *addr); err != nil {
		return err
	}

	logger.Info("server stopped", slog.String("addr", *addr))
	return nil
}
