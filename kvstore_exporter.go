package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/staffbase/kvstore-exporter/internal/logging"
	"github.com/staffbase/kvstore-exporter/internal/metrics"
	"github.com/staffbase/kvstore-exporter/internal/store"
)

const exporterName = "kvstore_exporter"

func main() {
	var (
		redisHost    = kingpin.Flag("redis.host", "Host of the redis server holding the items.").Envar("REDIS_HOST").Default("localhost").String()
		redisPort    = kingpin.Flag("redis.port", "Port of the redis server holding the items.").Envar("REDIS_PORT").Default("6379").Int()
		redisTimeout = kingpin.Flag("redis.timeout", "Dial, read and write timeout for redis.").Envar("REDIS_TIMEOUT").Default("2s").Duration()
		storeKind    = kingpin.Flag("store", "Item store backend.").Envar("STORE").Default("redis").Enum("redis", "memory")
		bindHost     = kingpin.Flag("web.bind-host", "The host to listen on for HTTP requests.").Envar("BIND_HOST").Default("0.0.0.0").String()
		port         = kingpin.Flag("web.port", "The port to listen on for HTTP requests.").Envar("PORT").Default("5000").Int()
		logConfig    logging.Config
	)
	logging.AddFlags(kingpin.CommandLine, &logConfig)
	kingpin.Version(version.Print(exporterName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if err := logging.Configure(log.StandardLogger(), logConfig); err != nil {
		log.Fatalf("Invalid logging configuration: %s", err)
	}
	log.Infof("Starting %s %s", exporterName, version.Info())

	var st store.Store
	switch *storeKind {
	case "memory":
		st = store.NewMemory()
	default:
		rdb := store.NewRedis(store.RedisConfig{Host: *redisHost, Port: *redisPort, Timeout: *redisTimeout})
		defer rdb.Close()
		st = rdb
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), *redisTimeout)
	if err := st.Ping(pingCtx); err != nil {
		// Not fatal: the API answers 503 until the store comes up.
		log.WithError(err).Warn("Item store is not reachable yet")
	}
	cancel()

	reg := metrics.NewRegistry()
	reg.MustRegister(
		versioncollector.NewCollector(exporterName),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewExporter(st, *redisTimeout, log.StandardLogger()),
	)

	srv, err := newServer(st, reg, log.StandardLogger())
	if err != nil {
		log.Fatalf("Failed to register metrics: %s", err)
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(*bindHost, strconv.Itoa(*port)),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("Received shutdown signal, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to shut down cleanly: %s", err)
		}
	}()

	log.Infof("Listening on %s (store: %s)", httpServer.Addr, *storeKind)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server failed: %s", err)
	}
	<-done
}
