// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/logger"
	"github.com/featurebasedb/parcelsync/tracing"
	fbopentracing "github.com/featurebasedb/parcelsync/tracing/opentracing"
)

// setupLogger points the command's logger at cfg.LogPath (stderr when
// empty), verbose if configured. The returned func closes the log file.
func setupLogger(cio *parcelsync.CmdIO, cfg *ingest.Config) (func() error, error) {
	var out io.Writer = cio.Stderr
	closer := func() error { return nil }
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		out, closer = f, f.Close
	}
	if cfg.Verbose {
		cio.SetLogger(logger.NewVerboseLogger(out))
	} else {
		cio.SetLogger(logger.NewStandardLogger(out))
	}
	return closer, nil
}

// setupTracing routes spans to the process-wide OpenTracing tracer when an
// embedding program has registered one.
func setupTracing(log logger.Logger) {
	if opentracing.IsGlobalTracerRegistered() {
		tracing.GlobalTracer = fbopentracing.NewTracer(opentracing.GlobalTracer(), log)
	}
}

// serveMetrics serves /metrics on bind until the returned func is called.
func serveMetrics(bind string, log logger.Logger) (func(), error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", bind)
	}
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// newTable returns a table writer mirrored to w that leaves header case
// alone.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
