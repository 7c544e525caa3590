// Copyright (C) 2024 Telemetry Gateway Contributors.
// All rights reserved. Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/fleetwire/telemetry-gateway/internal/config"
	"github.com/fleetwire/telemetry-gateway/internal/decoder"
	"github.com/fleetwire/telemetry-gateway/internal/decoder/nmea"
	"github.com/fleetwire/telemetry-gateway/internal/ingest"
	"github.com/fleetwire/telemetry-gateway/internal/pipeline"
	"github.com/fleetwire/telemetry-gateway/internal/plugin"
	"github.com/fleetwire/telemetry-gateway/internal/publish"
	"github.com/fleetwire/telemetry-gateway/internal/record"
	"github.com/fleetwire/telemetry-gateway/internal/resilience"
	cclog "github.com/fleetwire/telemetry-gateway/pkg/log"
	"github.com/fleetwire/telemetry-gateway/pkg/runtimeEnv"
)

var (
	version = "development"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("telemetry-gateway %s (%s, built %s)\n", version, commit, date)
		return
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err)
		}
	}

	config.Init(flagConfigFile)

	logLevel := config.Keys.Monitoring.LogLevel
	if flagLogLevel != "" {
		logLevel = flagLogLevel
	}
	cclog.SetLogLevel(logLevel)
	cclog.SetLogDateTime(flagLogDateTime || config.Keys.Monitoring.LogDate)

	registry := plugin.NewRegistry()
	if err := registry.Register(plugin.Descriptor{
		Name:     nmea.Name,
		Version:  nmea.Version,
		Protocol: decoder.ProtocolNMEA,
		Matches:  nmea.Matches,
		Decoder:  nmea.New(),
		Validate: nmea.New(),
	}, nil); err != nil {
		cclog.Fatalf("registering nmea plugin: %s", err)
	}

	kafkaPolicy := resilience.FromConfig("kafka", config.Keys.Resilience.Kafka)
	processingPolicy := resilience.FromConfig("messageProcessing", config.Keys.Resilience.MessageProcessing)
	connectionPolicy := resilience.FromConfig("connection", config.Keys.Resilience.Connection)

	publisher, err := publish.New(config.Keys.Kafka, kafkaPolicy)
	if err != nil {
		cclog.Fatalf("starting kafka publisher: %s", err)
	}

	validator := record.NewValidator()

	queueCapacity := 4 * config.Keys.TelemetryServer.MaxConcurrentConnections
	pl := pipeline.New(pipeline.Config{
		QueueCapacity: queueCapacity,
		ShutdownDrain: config.Keys.ShutdownTimeoutDuration(),
	}, registry, validator, publisher, processingPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pl.Start(ctx)

	stats := ingest.NewStats()
	tcpSrv := ingest.NewTCPServer(
		fmt.Sprintf(":%d", config.Keys.TelemetryServer.TCPPort),
		config.Keys.TelemetryServer.BufferSize,
		config.Keys.TelemetryServer.MaxConcurrentConnections,
		pl, stats, connectionPolicy,
	)
	udpSrv := ingest.NewUDPServer(
		fmt.Sprintf(":%d", config.Keys.TelemetryServer.UDPPort),
		config.Keys.TelemetryServer.BufferSize,
		pl, stats,
	)

	go func() {
		if err := tcpSrv.ListenAndServe(ctx); err != nil {
			cclog.Errorf("tcp server: %s", err)
		}
	}()
	go func() {
		if err := udpSrv.ListenAndServe(ctx); err != nil {
			cclog.Errorf("udp server: %s", err)
		}
	}()

	admin := newAdminServer(config.Keys.Monitoring, stats, publisher)
	go admin.Serve()

	cclog.Infof("telemetry-gateway %s listening: tcp=:%d udp=:%d admin=%s",
		version, config.Keys.TelemetryServer.TCPPort, config.Keys.TelemetryServer.UDPPort, config.Keys.Monitoring.MetricsAddr)

	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	shutdown(cancel, tcpSrv, udpSrv, pl, publisher, registry, admin)
	cclog.Print("graceful shutdown complete")
}

// shutdown implements spec.md §5's six-step sequence: stop new TCP
// connections and actively close every live session (TCPServer.Close
// blocks until every serve goroutine has returned), stop the UDP receiver
// the same way, only then close the Pipeline's intake channel — by this
// point no producer can still be calling Enqueue/TryEnqueue, so closing the
// channel can't race a send on it — await worker drain, flush the
// Publisher, and finally tear down the Plugin Registry.
func shutdown(cancel context.CancelFunc, tcpSrv *ingest.TCPServer, udpSrv *ingest.UDPServer, pl *pipeline.Pipeline, publisher *publish.Publisher, registry *plugin.Registry, admin *adminServer) {
	_ = tcpSrv.Close()
	_ = udpSrv.Close()

	// Workers keep draining the already-enqueued backlog against the
	// still-live context; only once the queue is empty (or the drain
	// deadline trips) do we cancel it.
	pl.Close()
	cancel()

	if err := publisher.Flush(30 * time.Second); err != nil {
		cclog.Errorf("publisher flush: %s", err)
	}
	if err := publisher.Close(); err != nil {
		cclog.Errorf("publisher close: %s", err)
	}

	registry.Shutdown()
	admin.Shutdown()
}
