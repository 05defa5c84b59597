// Command appcored runs the app runtime services as a local sidecar daemon.
// A host shell posts its UI timings to /track/* and reads health, memory,
// and report data back over HTTP or the /live websocket stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/remedia-app/appcore"
	"github.com/remedia-app/appcore/governor"
	"github.com/remedia-app/appcore/perf"
	"github.com/remedia-app/appcore/persist"
	"github.com/remedia-app/appcore/startup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", ":8372", "HTTP listen address")
		dbPath     = flag.String("db", "appcore.db", "path to the persistence database")
	)
	flag.Parse()

	cfg, err := appcore.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	st, err := persist.OpenBolt(*dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	core, err := appcore.New(cfg, logger, st, nil)
	if err != nil {
		return err
	}
	if err := registerLaunchWork(core, st); err != nil {
		return err
	}

	if err := core.Initialize(context.Background()); err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	if !cfg.Startup.EnableBackgroundInit {
		core.StartMonitoring()
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: routes(core, logger),
	}

	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "addr", *addr, "session_id", core.SessionID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			cancelServer()
		}
	}()

	select {
	case <-shutdownCh:
		logger.Info("shutdown signal received")
	case <-serverCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	if err := core.Shutdown(shutdownCtx); err != nil {
		logger.Warn("core shutdown incomplete", "error", err)
	}
	logger.Info("stopped")
	return nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type scheduleEntry struct {
	Medication string    `json:"medication"`
	DueAt      time.Time `json:"due_at"`
}

// registerLaunchWork wires the daemon's own critical path: prove the store
// answers, then warm the cache with the views the shell asks for first.
func registerLaunchWork(core *appcore.Core, st persist.Store) error {
	now := time.Now()
	today := []scheduleEntry{
		{Medication: "levothyroxine 50mcg", DueAt: now.Truncate(24 * time.Hour).Add(8 * time.Hour)},
		{Medication: "metformin 500mg", DueAt: now.Truncate(24 * time.Hour).Add(12 * time.Hour)},
		{Medication: "metformin 500mg", DueAt: now.Truncate(24 * time.Hour).Add(19 * time.Hour)},
	}

	resources := []startup.Resource{
		{
			ID:   startup.ResourceDataStore,
			Kind: startup.KindService,
			Load: func(context.Context) error {
				_, _, err := st.Get(persist.KeyLaunchLog)
				return err
			},
		},
		{
			ID:   startup.ResourceCacheReload,
			Kind: startup.KindService,
			Load: func(context.Context) error {
				return core.SetCache("boot:last_reload", now.Format(time.RFC3339), time.Hour)
			},
		},
		{
			ID:   startup.ResourceTodaySchedule,
			Kind: startup.KindData,
			Load: func(context.Context) error {
				return core.SetCache("schedule:today", today, 15*time.Minute)
			},
		},
		{
			ID:   startup.ResourcePendingItems,
			Kind: startup.KindData,
			Load: func(context.Context) error {
				return core.SetCache("items:pending", []string{"refill levothyroxine"}, 15*time.Minute)
			},
		},
	}
	for _, res := range resources {
		if err := core.RegisterResource(res); err != nil {
			return err
		}
	}

	return core.RegisterDeferred(startup.DeferredTask{
		ID:       "prefetch_history",
		Priority: 2,
		Run: func(context.Context) error {
			return core.SetCache("history:recent", []string{}, 30*time.Minute)
		},
	})
}

// touchEvery counts every request as user interaction so the idle gate
// reflects real traffic.
func touchEvery(core *appcore.Core) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			core.Touch()
			next.ServeHTTP(w, r)
		})
	}
}

func routes(core *appcore.Core, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(touchEvery(core))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":      core.State().String(),
			"session_id": core.SessionID(),
			"pressure":   core.MemoryPressure().String(),
		})
	})

	r.Get("/memory", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, core.MemorySummary())
	})

	r.Get("/performance", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, core.CurrentPerformance())
	})

	r.Get("/launches", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, core.LaunchPerformance())
	})

	r.Get("/report", func(w http.ResponseWriter, req *http.Request) {
		hours, err := strconv.Atoi(req.URL.Query().Get("window_hours"))
		if err != nil || hours <= 0 {
			hours = 24
		}
		writeJSON(w, http.StatusOK, core.PerformanceReport(time.Duration(hours)*time.Hour))
	})

	r.Route("/track", func(r chi.Router) {
		r.Post("/render", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Screen   string  `json:"screen"`
				RenderMs float64 `json:"render_ms"`
			}
			if !decodeBody(w, req, &body) {
				return
			}
			core.TrackScreenRender(body.Screen, body.RenderMs)
			w.WriteHeader(http.StatusAccepted)
		})

		r.Post("/scroll", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Screen        string  `json:"screen"`
				FPS           float64 `json:"fps"`
				DroppedFrames int     `json:"dropped_frames"`
			}
			if !decodeBody(w, req, &body) {
				return
			}
			core.TrackScrollPerformance(body.Screen, body.FPS, body.DroppedFrames)
			w.WriteHeader(http.StatusAccepted)
		})

		r.Post("/navigation", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				From       string  `json:"from"`
				To         string  `json:"to"`
				DurationMs float64 `json:"duration_ms"`
			}
			if !decodeBody(w, req, &body) {
				return
			}
			core.TrackNavigation(body.From, body.To, body.DurationMs)
			w.WriteHeader(http.StatusAccepted)
		})

		r.Post("/interaction", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Name       string  `json:"name"`
				DurationMs float64 `json:"duration_ms"`
			}
			if !decodeBody(w, req, &body) {
				return
			}
			core.TrackInteraction(body.Name, body.DurationMs)
			w.WriteHeader(http.StatusAccepted)
		})
	})

	r.Get("/live", liveHandler(core, logger))

	return r
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type liveFrame struct {
	At          time.Time              `json:"at"`
	Memory      governor.MemorySummary `json:"memory"`
	Performance perf.Snapshot          `json:"performance"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// liveHandler streams a memory and performance frame every two seconds until
// the client hangs up.
func liveHandler(core *appcore.Core, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				frame := liveFrame{
					At:          time.Now().UTC(),
					Memory:      core.MemorySummary(),
					Performance: core.CurrentPerformance(),
				}
				data, err := json.Marshal(frame)
				if err != nil {
					logger.Warn("live frame encode failed", "error", err)
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}
}
