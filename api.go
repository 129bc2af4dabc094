package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinns/concierge/journal"
	"github.com/vinns/concierge/session"
)

func (robo *Robot) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/allocs:objects|/gc/heap/goal:bytes|/memory/classes/heap/released:bytes|/memory/classes/heap/stacks:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	robo.routes(mux)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// routes registers the session API on mux.
func (robo *Robot) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session/{guild}", robo.apiSessions)
	mux.HandleFunc("GET /api/session/{guild}/history", robo.apiHistory)
	mux.HandleFunc("GET /api/watch", robo.apiWatch)
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

// apiSession is the API representation of a session.
type apiSession struct {
	ID           string    `json:"id"`
	Guild        string    `json:"guild"`
	Kind         string    `json:"kind"`
	Host         string    `json:"host"`
	State        string    `json:"state"`
	Slot         string    `json:"slot,omitzero"`
	Created      time.Time `json:"created"`
	Started      time.Time `json:"started,omitzero"`
	Locked       time.Time `json:"locked,omitzero"`
	Ended        time.Time `json:"ended,omitzero"`
	EndedBy      string    `json:"ended_by,omitzero"`
	Automatic    bool      `json:"automatic,omitzero"`
	Announcement string    `json:"announcement,omitzero"`
}

func toAPI(s session.Session) apiSession {
	r := apiSession{
		ID:           s.ID.String(),
		Guild:        s.Guild,
		Kind:         s.Kind.String(),
		Host:         s.Host,
		State:        s.State.String(),
		Slot:         s.Slot,
		Created:      s.Created,
		Started:      s.Started,
		Locked:       s.LockedAt,
		Ended:        s.EndedAt,
		Announcement: s.Announcement,
	}
	if s.Auto() {
		r.Automatic = true
	} else {
		r.EndedBy = s.EndedBy
	}
	return r
}

// apiEvent is the API representation of a session event.
type apiEvent struct {
	Type    string     `json:"type"`
	At      time.Time  `json:"at"`
	Session apiSession `json:"session"`
}

func (robo *Robot) apiSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "sessions"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	g := r.PathValue("guild")
	if robo.guild(g) == nil {
		log.WarnContext(ctx, "unknown guild", slog.String("guild", g))
		jsonerror(w, http.StatusNotFound, "unknown guild")
		return
	}
	l := robo.cmd.Sessions.List(g)
	v := struct {
		Data   []apiSession `json:"data"`
		Status int          `json:"status"`
	}{
		Data:   make([]apiSession, 0, len(l)),
		Status: http.StatusOK,
	}
	for _, s := range l {
		v.Data = append(v.Data, toAPI(s))
	}
	b, err := json.Marshal(&v)
	if err != nil {
		log.ErrorContext(ctx, "couldn't marshal sessions", slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Write(b)
}

func (robo *Robot) apiHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slog.With(slog.String("api", "history"), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	g := r.PathValue("guild")
	n := 20
	if s := r.FormValue("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			log.WarnContext(ctx, "bad request", slog.String("n", s), slog.Any("err", err))
			jsonerror(w, http.StatusBadRequest, "invalid page size")
			return
		}
	}
	if robo.cmd.Journal == nil {
		jsonerror(w, http.StatusNotFound, "no history")
		return
	}
	l, err := journal.Recent(ctx, robo.cmd.Journal, g, n)
	if err != nil {
		log.ErrorContext(ctx, "couldn't read history", slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(l) == 0 {
		jsonerror(w, http.StatusNotFound, "no history")
		return
	}
	v := struct {
		Data   []journal.Entry `json:"data"`
		Status int             `json:"status"`
	}{
		Data:   l,
		Status: http.StatusOK,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		log.ErrorContext(ctx, "couldn't marshal history", slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Write(b)
}
