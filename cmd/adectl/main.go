// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command adectl loads a Spicepod configuration document, registers
// every accelerated dataset it declares, and serves Prometheus
// metrics until terminated. It is the ambient CLI entrypoint for the
// engine, grounded on the teacher's `source/server.Config` flag/
// preflight shape.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/spiceai/ade/internal/api"
	"github.com/spiceai/ade/internal/cache"
	"github.com/spiceai/ade/internal/config"
	"github.com/spiceai/ade/internal/diag"
	"github.com/spiceai/ade/internal/federation"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/sourceadapter"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("adectl exiting")
	}
}

func run() error {
	f := &flags{}
	f.Bind(pflag.CommandLine)
	pflag.Parse()
	if err := f.Preflight(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}

	level, err := log.ParseLevel(f.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "parsing logLevel %q", f.LogLevel)
	}
	log.SetLevel(level)

	shutdownGrace, err := time.ParseDuration(f.ShutdownGrace)
	if err != nil {
		return errors.Wrapf(err, "parsing shutdownGrace %q", f.ShutdownGrace)
	}

	raw, err := os.ReadFile(f.PodPath)
	if err != nil {
		return errors.Wrapf(err, "reading %q", f.PodPath)
	}

	pod, err := config.Decode(raw)
	if err != nil {
		return err
	}
	if err := pod.Preflight(); err != nil {
		return errors.Wrap(err, "spicepod validation failed")
	}

	order, err := pod.StartOrder()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := stopper.WithContext(ctx)

	reg := registry.New()
	if err := registerDatasets(root, reg, pod, order, f.SourceWait); err != nil {
		reg.Close()
		return err
	}

	c := cache.New(resultsCacheOptions(pod, reg))
	d := diag.New(reg)
	server := api.New(reg, c, d)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/runtime/datasets", runtimeDatasetsHandler(server))
	mux.HandleFunc("/refresh/", triggerRefreshHandler(server))
	mux.HandleFunc("/query", queryHandler(server))
	httpServer := &http.Server{Addr: f.BindAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	log.WithField("datasets", order).Info("ade ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	root.Stop(shutdownGrace)
	reg.Close()
	return nil
}

// registerDatasets opens each enabled dataset's Source Adapter and
// registers it with reg in the dependency order StartOrder computed.
// A dataset with acceleration disabled is skipped: it has no
// accelerated replica for this engine to manage.
func registerDatasets(root *stopper.Context, reg *registry.Registry, pod *config.Spicepod, order []string, waitForStartup bool) error {
	byName := make(map[string]*config.Dataset, len(pod.Datasets))
	for i := range pod.Datasets {
		byName[pod.Datasets[i].Name] = &pod.Datasets[i]
	}

	for _, name := range order {
		cfg, ok := byName[name]
		if !ok {
			continue
		}

		ds, opts, enabled := cfg.ToDataset()
		if !enabled {
			log.WithField("dataset", name).Info("skipping dataset with acceleration disabled")
			continue
		}

		source, err := sourceadapter.Open(root, cfg.From, ds.Name, ds.Schema, waitForStartup)
		if err != nil {
			return errors.Wrapf(err, "opening source adapter for dataset %q", name)
		}

		if _, err := reg.Register(root, ds, source, opts); err != nil {
			return errors.Wrapf(err, "registering dataset %q", name)
		}
		log.WithField("dataset", name).Info("dataset registered")
	}
	return nil
}

// runtimeDatasetsHandler backs the `runtime.datasets` introspection
// relation over HTTP (spec §6): a thin JSON projection of
// diag.Diagnostics.Snapshot, since building a SQL surface over it is
// a query-planner concern this engine leaves to an external
// collaborator.
func runtimeDatasetsHandler(server *api.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(server.RuntimeDatasets()); err != nil {
			log.WithError(err).Warn("encoding runtime datasets response")
		}
	}
}

// triggerRefreshHandler backs spec §6's refresh-trigger endpoint:
// POST /refresh/<dataset> requests an out-of-band refresh cycle.
func triggerRefreshHandler(server *api.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dataset := strings.TrimPrefix(r.URL.Path, "/refresh/")
		if dataset == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := server.TriggerRefresh(dataset); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// queryRequestBody is the wire shape of a POST /query body. Real SQL
// parsing and cross-dataset planning stay a collaborator's concern
// upstream of this engine (spec §1); SQL is consulted only for cache
// fingerprinting, and every request resolves to a full scan of
// Dataset through the Federation Arbiter.
type queryRequestBody struct {
	Dataset string `json:"dataset"`
	SQL     string `json:"sql"`
	// NoCache is the client's cache-control hint (spec §6): when set,
	// the Results Cache is neither consulted nor populated.
	NoCache bool `json:"no_cache"`
	// System marks a runtime/information_schema introspection query,
	// which bypasses the Results Cache unconditionally.
	System bool `json:"system"`
}

type queryResponseBody struct {
	Batches []types.Batch `json:"batches"`
}

// queryHandler backs spec §6's SQL endpoint: POST /query decodes a
// request into api.QueryRequest, runs it through the Federation
// Arbiter via Server.Query, and reports the Results Cache's verdict
// on the `X-Cache` response header.
func queryHandler(server *api.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body queryRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, errors.Wrap(err, "decoding query request").Error(), http.StatusBadRequest)
			return
		}
		if body.Dataset == "" {
			http.Error(w, "dataset is required", http.StatusBadRequest)
			return
		}

		req := api.QueryRequest{
			Dataset: body.Dataset,
			SQL:     body.SQL,
			NoCache: body.NoCache,
			System:  body.System,
			Fragment: federation.Fragment{
				Root:    federation.Node{Kind: federation.NodeProjection},
				Scan:    types.ScanOptions{},
				Sources: map[string]string{},
			},
		}

		resp, err := server.Query(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("X-Cache", string(resp.Cache))
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(queryResponseBody{Batches: resp.Batches}); err != nil {
			log.WithError(err).Warn("encoding query response")
		}
	}
}

// resultsCacheOptions translates the Spicepod document's runtime
// results_cache block into cache.Options. The block's `enabled` flag
// only governs whether cache_max_size/item_ttl override this engine's
// defaults; the Results Cache itself is always present, since every
// query path (including a cache miss) goes through it uniformly.
func resultsCacheOptions(pod *config.Spicepod, reg *registry.Registry) cache.Options {
	opts := cache.Options{Epochs: reg.Epochs()}
	if pod.Runtime == nil || !pod.Runtime.ResultsCache.Enabled {
		return opts
	}

	opts.MaxBytes = pod.Runtime.ResultsCache.MaxSizeBytes
	opts.ItemTTL, _ = time.ParseDuration(pod.Runtime.ResultsCache.ItemTTL)
	return opts
}
