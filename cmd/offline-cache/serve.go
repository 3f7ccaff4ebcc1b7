package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/notifiers/shoutrrr"
)

const (
	scriptPath      = "/service-worker.js"
	shutdownTimeout = 10 * time.Second
	maxMessageBytes = 1 << 16
)

type serveOptions struct {
	listen     string
	upstream   string
	notifyURLs []string
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an offline-capable reverse proxy in front of the courrier backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", ":8080", "address to listen on")
	cmd.Flags().StringVar(&opts.upstream, "upstream", "", "origin of the front-end and REST API (defaults to OFFLINE_CACHE_ORIGIN)")
	cmd.Flags().StringSliceVar(&opts.notifyURLs, "notify-url", nil, "shoutrrr URL receiving push notifications")
	return cmd
}

func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	logger, err := newLogger(global.logLevel)
	if err != nil {
		return err
	}

	cfg, err := offlinecache.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if opts.upstream != "" {
		cfg.Origin = opts.upstream
	}
	upstream, err := url.Parse(cfg.Origin)
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	storage, closer, err := openStorage(ctx, global)
	if err != nil {
		return err
	}
	defer closer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := offlinecache.NewMetrics(registry)
	if err != nil {
		return err
	}

	workerOpts := []offlinecache.Option{
		offlinecache.WithLogger(logger),
		offlinecache.WithMetrics(metrics),
	}
	if len(opts.notifyURLs) > 0 {
		notifier, err := shoutrrr.New(opts.notifyURLs...)
		if err != nil {
			return err
		}
		workerOpts = append(workerOpts, offlinecache.WithNotifier(notifier))
	}

	worker, err := offlinecache.NewWorker(cfg, storage, http.DefaultTransport, workerOpts...)
	if err != nil {
		return err
	}

	reg := offlinecache.NewRegistration(scriptPath, nil, logger)
	if err := reg.Register(ctx, worker); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	logger.InfoContext(ctx, "worker registered",
		"version", worker.Scope().Version,
		"state", worker.State().String(),
		"development", worker.Scope().Development)

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = worker
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.WarnContext(r.Context(), "upstream unavailable", "url", r.URL.String(), "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           newRouter(reg, cfg, proxy, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening", "addr", opts.listen, "upstream", upstream.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	worker.Wait()
	return nil
}

func newRouter(reg *offlinecache.Registration, cfg offlinecache.Config, proxy http.Handler, registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Route("/__sw", func(r chi.Router) {
		r.Post("/message", messageHandler(reg, cfg.MessageTimeout, logger))
		r.Post("/push", pushHandler(reg, logger))
	})
	r.Handle("/*", proxy)
	return r
}

func messageHandler(reg *offlinecache.Registration, timeout time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg offlinecache.Message
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}

		worker := reg.Controller()
		if worker == nil {
			http.Error(w, "no active worker", http.StatusServiceUnavailable)
			return
		}

		if msg.Type == offlinecache.MessageSkipWaiting {
			target := reg.Waiting()
			if target == nil {
				target = worker
			}
			if err := target.PostMessage(r.Context(), msg, nil); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		reply, err := offlinecache.SendMessage(r.Context(), worker, msg, timeout)
		if errors.Is(err, offlinecache.ErrMessageTimeout) {
			logger.WarnContext(r.Context(), "worker did not reply", "type", string(msg.Type))
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(reply)
	}
}

func pushHandler(reg *offlinecache.Registration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		worker := reg.Active()
		if worker == nil {
			http.Error(w, "no active worker", http.StatusServiceUnavailable)
			return
		}
		if _, err := worker.Dispatch(r.Context(), offlinecache.PushEvent{Data: data}); err != nil {
			logger.WarnContext(r.Context(), "push failed", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
