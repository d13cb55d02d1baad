package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slotkeeper.ai/internal/configwatch"
	"slotkeeper.ai/internal/persistence/indexdb"
	persistlog "slotkeeper.ai/internal/persistence/log"
	"slotkeeper.ai/internal/persistence/r2s3"
	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/runtime"
	"slotkeeper.ai/internal/sim/tuning"
	"slotkeeper.ai/internal/transport/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement runtime and the game-server bridge",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := tuning.Load(settingsPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(settings.Debug || verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var mirror *r2s3.Mirror
	if a := settings.Archive; a.Enabled() {
		client, err := r2s3.New(a.Endpoint, a.Bucket, a.AccessKeyID, a.SecretAccessKey)
		if err != nil {
			return err
		}
		mirror = r2s3.NewMirror(client, settings.DataDir, a.Prefix, a.Workers, logger)
		defer mirror.Close()
	}

	var sinks audit.Multi
	if settings.AuditLog {
		al := persistlog.NewAuditLogger(settings.DataDir)
		if mirror != nil {
			al.OnClosed(mirror.Enqueue)
		}
		defer al.Close()
		sinks = append(sinks, al)
	}
	var idx *indexdb.SQLiteIndex
	if settings.IndexDB != "" {
		idx, err = indexdb.OpenSQLite(settings.IndexDB)
		if err != nil {
			return err
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}

	rt, err := runtime.New(runtime.Config{
		Settings: settings,
		Logger:   logger.Named("runtime"),
		Audit:    sinks,
		OnLoad: func(set *policy.Set) {
			if err := idx.UpsertPolicies(context.Background(), set); err != nil {
				logger.Warn("index policies failed", zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	bridge := ws.NewServer(rt, settings.BridgeToken, logger.Named("ws"))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bridge", bridge.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/audits", auditsHandler(idx))
	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", settings.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		bridge.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if settings.WatchConfig {
		w := configwatch.New(
			[]string{settings.PoliciesPath, settings.MessagesPath},
			configwatch.DefaultDebounce,
			rt.RequestReload,
			logger.Named("watch"),
		)
		g.Go(func() error { return w.Run(gctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped",
		zap.Uint64("tick", rt.Tick()),
		zap.Uint64("dropped_pushes", bridge.DroppedPushes()),
		zap.Uint64("dropped_audits", idx.Stats().DroppedTotal),
	)
	return err
}

// auditsHandler serves recent audit entries from the index: ?actor=<uuid>&limit=<n>.
func auditsHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if idx == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := idx.RecentAudits(r.Context(), r.URL.Query().Get("actor"), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(entries)
	}
}
