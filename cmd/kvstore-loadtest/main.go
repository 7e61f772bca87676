package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/staffbase/kvstore-exporter/internal/loadgen"
	"github.com/staffbase/kvstore-exporter/internal/logging"
	"github.com/staffbase/kvstore-exporter/internal/metrics"
)

const programName = "kvstore_loadtest"

func main() {
	var (
		targetURL      = kingpin.Flag("target.url", "Base URL of the items API under test.").Envar("LOADTEST_BASE_URL").Default("http://localhost:9000").String()
		duration       = kingpin.Flag("duration", "Length of the test in seconds.").Envar("LOADTEST_DURATION").Default("60").Int()
		requestTimeout = kingpin.Flag("request.timeout", "Timeout of a single request.").Envar("LOADTEST_REQUEST_TIMEOUT").Default(loadgen.DefaultRequestTimeout.String()).Duration()
		patternsConfig = kingpin.Flag("patterns.config", "YAML file overriding pattern intervals.").Envar("LOADTEST_PATTERNS_CONFIG").ExistingFile()
		listenAddr     = kingpin.Flag("web.listen-address", "Serve the load generator's own metrics on this address. Disabled when empty.").Envar("LOADTEST_LISTEN_ADDRESS").Default("").String()
		logConfig      logging.Config
	)
	logging.AddFlags(kingpin.CommandLine, &logConfig)
	kingpin.Version(version.Print(programName))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if err := logging.Configure(log.StandardLogger(), logConfig); err != nil {
		log.Fatalf("Invalid logging configuration: %s", err)
	}
	if *duration <= 0 {
		log.Fatalf("Duration must be positive, got %d", *duration)
	}

	patterns := loadgen.DefaultPatterns()
	if *patternsConfig != "" {
		cfg, err := loadgen.ReadConfig(*patternsConfig)
		if err != nil {
			log.Fatal(err)
		}
		if patterns, err = cfg.Apply(patterns); err != nil {
			log.Fatal(err)
		}
	}

	reg := metrics.NewRegistry()
	coordinator, err := loadgen.NewCoordinator(loadgen.NewClient(*targetURL, *requestTimeout), reg, log.StandardLogger(), patterns...)
	if err != nil {
		log.Fatalf("Failed to register metrics: %s", err)
	}

	if *listenAddr != "" {
		go serveMetrics(*listenAddr, reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, err := coordinator.Run(ctx, time.Duration(*duration)*time.Second)
	var preflight *loadgen.PreflightError
	if errors.As(err, &preflight) {
		log.WithError(err).Error("Start the items API first, then rerun the load test")
		os.Exit(1)
	}
	if err != nil {
		log.WithError(err).Error("Load test finished with a failed pattern")
	}

	for _, r := range reports {
		log.WithFields(log.Fields{
			"pattern":  r.Pattern,
			"state":    r.State,
			"requests": r.Requests,
			"failures": r.Failures,
		}).Info("Pattern summary")
	}
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Infof("Serving load generator metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Warn("Metrics endpoint stopped")
	}
}
