package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/plant_monitor/internal/services/device"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	log := logger.For("device")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers, err := cfg.Broker.Configs()
	if err != nil {
		log.Fatalf("brokers: %v", err)
	}
	conn, err := broker.NewConn(ctx, brokers[0], log)
	if err != nil {
		log.Fatalf("MQTT connect error: %v", err)
	}

	health := device.NewHealthServer(logger.For("health"))
	health.Track(conn)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.GRPCAddr, err)
	}
	go func() {
		if err := health.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Error("gRPC server")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()

	dispatcher := device.NewDispatcher(device.NewLogActuator(logger.For("actuator")), cfg.PumpRun, logger.For("dispatcher"), m)
	svc := device.NewService(broker.NewConsumer(conn, byte(cfg.Broker.QoS), nil, cfg.Topics.Command), dispatcher)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Start(ctx); err != nil {
			log.WithError(err).Error("command consumer stopped")
			cancel()
		}
	}()
	log.WithFields(logrus.Fields{"topic": cfg.Topics.Command, "grpc": cfg.GRPCAddr}).Info("device running")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	cancel()
	<-done
	health.Stop()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
	conn.Close()
}
