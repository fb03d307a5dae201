// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
	"github.com/relabs-tech/ahrs_computer/internal/sink"
)

// summaryInterval is how often the producer logs runner counters.
const summaryInterval = 10 * time.Second

// RunFusionProducer reads the configured sample source, runs the filter and
// publishes every estimate until ctx is cancelled or a replay ends.
func RunFusionProducer(ctx context.Context) error {
	log.Println("starting ahrs-computer fusion producer")

	cfg := config.Get()

	src, err := sensors.Open(cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	log.Printf("producer: sample source %s", cfg.Source)

	sinks, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Printf("producer: closing sinks: %v", err)
		}
	}()

	var metrics *fusion.Metrics
	if cfg.MetricsPort > 0 {
		metrics = fusion.NewMetrics(prometheus.DefaultRegisterer)
		stop := serveMetrics(cfg.MetricsPort)
		defer stop()
	}

	runner, err := fusion.NewRunner(src, sinks, fusion.Options{
		Filter:     cfg.FilterConfig(),
		AccelStale: cfg.AccelStale(),
		LogEvery:   summaryInterval,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openSinks builds the outputs enabled in cfg. MQTT is always on; the
// rest are enabled by their config keys.
func openSinks(cfg *config.Config) (sink.Multi, error) {
	var sinks sink.Multi
	fail := func(err error) (sink.Multi, error) {
		sinks.Close()
		return nil, err
	}

	m, err := sink.NewMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer, cfg.TopicOrientation, cfg.TopicIMU)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, m)

	if cfg.NMEASerialPort != "" {
		n, err := sink.OpenNMEASerial(cfg.NMEASerialPort, cfg.NMEABaudRate, cfg.NMEATalker)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, n)
	}

	if cfg.DatalogFile != "" {
		d, err := sink.OpenDatalog(cfg.DatalogFile)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, d)
	}

	if cfg.RecordFile != "" {
		r, err := sink.CreateRecorder(cfg.RecordFile)
		if err != nil {
			return fail(err)
		}
		log.Printf("producer: recording samples to %s", cfg.RecordFile)
		sinks = append(sinks, r)
	}

	return sinks, nil
}

// serveMetrics exposes the default registry on port and returns a function
// that shuts the listener down.
func serveMetrics(port int) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		log.Printf("metrics: listening on %s/metrics", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
