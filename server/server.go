/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package server is the daemon's HTTP surface.
//
//	GET  /ping
//	GET  /targets                      targets and their groups
//	GET  /targets/{id}/markers         every marker set of a target
//	GET  /targets/{id}/markers/{key}   one marker set
//	GET  /status                       the last tick's report
//	POST /reload                       reread the target documents
//	GET  /ws                           stream of rebuilt sets
//	GET  /metrics                      Prometheus
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/Comcast/entitymarkers/config"
	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/registry"
	"github.com/Comcast/entitymarkers/scheduler"
)

// Lookup finds a target's marker sets without creating them.
type Lookup interface {
	Lookup(targetID string) (*marker.Sets, error)
}

type Server struct {
	Registry *registry.Registry
	Markers  Lookup
	Hub      *Hub
	Logger   *zap.Logger

	// Reload, if not nil, serves POST /reload.
	Reload func() (*config.Report, error)

	// LastReport, if not nil, serves GET /status.
	LastReport func() *scheduler.Report

	// Gatherer, if not nil, serves GET /metrics.
	Gatherer prometheus.Gatherer
}

func New(reg *registry.Registry, markers Lookup, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Registry: reg,
		Markers:  markers,
		Hub:      NewHub(logger),
		Logger:   logger,
	}
	s.Hub.Current = s.current
	return s
}

// GroupInfo describes a group of a target.
type GroupInfo struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Key     string `json:"key"`
	Filters int    `json:"filters"`
	Markers int    `json:"markers"`
}

type TargetInfo struct {
	ID     string       `json:"id"`
	World  string       `json:"world"`
	Groups []*GroupInfo `json:"groups"`
}

// Targets describes the current registry.
func (s *Server) Targets() []*TargetInfo {
	snap := s.Registry.Snapshot()
	acc := make([]*TargetInfo, 0, snap.Len())
	for _, t := range snap.Targets() {
		ti := &TargetInfo{
			ID:     t.ID,
			World:  t.World,
			Groups: make([]*GroupInfo, 0, len(t.Groups)),
		}
		// No sets yet (before the first tick) is fine.
		sets, _ := s.Markers.Lookup(t.ID)
		for _, g := range t.Groups {
			gi := &GroupInfo{
				ID:      g.ID,
				Label:   g.Label,
				Key:     filter.MarkerSetKey(t.ID, g.ID),
				Filters: len(g.Filters),
			}
			if sets != nil {
				if ms, have := sets.Get(gi.Key); have {
					gi.Markers = ms.Len()
				}
			}
			ti.Groups = append(ti.Groups, gi)
		}
		acc = append(acc, ti)
	}
	return acc
}

// current gives a new WebSocket client what's there now.
func (s *Server) current(target string) []*Update {
	ids := s.Registry.Snapshot().IDs()
	if target != "" {
		ids = []string{target}
	}
	var acc []*Update
	for _, id := range ids {
		sets, err := s.Markers.Lookup(id)
		if err != nil {
			continue
		}
		for _, key := range sets.Keys() {
			if ms, have := sets.Get(key); have {
				acc = append(acc, &Update{
					Target: id,
					Key:    key,
					Set:    ms.Snapshot(),
				})
			}
		}
	}
	return acc
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, x interface{}) {
	js, err := json.Marshal(x)
	if err != nil {
		s.Logger.Error("marshal error", zap.Error(err))
		status = http.StatusInternalServerError
		js = []byte(`{"error":"marshal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s\n", js)
}

func (s *Server) puntf(w http.ResponseWriter, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Logger.Debug("http error", zap.Int("status", status), zap.String("error", msg))
	s.writeJSON(w, status, map[string]interface{}{
		"error": msg,
	})
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "\"pong\"\n")
	})

	mux.HandleFunc("GET /targets", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.Targets())
	})

	mux.HandleFunc("GET /targets/{id}/markers", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sets, err := s.Markers.Lookup(id)
		if err != nil {
			s.puntf(w, http.StatusNotFound, "%v", err)
			return
		}
		s.writeJSON(w, http.StatusOK, sets.Snapshot())
	})

	mux.HandleFunc("GET /targets/{id}/markers/{key}", func(w http.ResponseWriter, r *http.Request) {
		id, key := r.PathValue("id"), r.PathValue("key")
		sets, err := s.Markers.Lookup(id)
		if err != nil {
			s.puntf(w, http.StatusNotFound, "%v", err)
			return
		}
		ms, have := sets.Get(key)
		if !have {
			s.puntf(w, http.StatusNotFound, "no marker set %q for %q", key, id)
			return
		}
		s.writeJSON(w, http.StatusOK, ms.Snapshot())
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"registry": s.Registry.Snapshot().Version,
		}
		if s.LastReport != nil {
			if rep := s.LastReport(); rep != nil {
				status["tick"] = rep
			}
		}
		s.writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /reload", func(w http.ResponseWriter, r *http.Request) {
		if s.Reload == nil {
			s.puntf(w, http.StatusNotImplemented, "reload not supported")
			return
		}
		report, err := s.Reload()
		if err != nil {
			s.puntf(w, http.StatusInternalServerError, "reload failed: %v", err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	})

	mux.Handle("GET /ws", s.Hub)

	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Listen opens a listener that accepts at most maxConns connections
// at a time.  Zero means no limit.
func Listen(addr string, maxConns int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if 0 < maxConns {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

// Serve serves until the context is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// We want to make sure that the following goroutine is
	// terminated.
	var (
		done    = make(chan bool)
		stopped = make(chan bool)
	)
	defer func() {
		close(done)
		<-stopped
	}()

	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			s.Logger.Warn("shutdown", zap.Error(err))
		}
	}()

	s.Logger.Info("serving", zap.String("addr", l.Addr().String()))
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
