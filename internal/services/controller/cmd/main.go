package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/services/controller"
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
	log := logger.For("controller")

	thresholds, err := cfg.Thresholds.ThresholdConfig()
	if err != nil {
		log.Fatalf("thresholds: %v", err)
	}
	eval, err := controller.NewEvaluator(thresholds)
	if err != nil {
		log.Fatalf("evaluator: %v", err)
	}

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
	qos := byte(cfg.Broker.QoS)

	cmds := controller.NewCommandPublisher(broker.NewPublisher(conn, cfg.Topics.Command, qos, cfg.PublishTimeout), logger.For("commands"), m)
	consumer := broker.NewConsumer(conn, qos, nil, cfg.Topics.Data)
	ctrl, err := controller.NewController(consumer, eval, cmds, cfg.Cooldown, cfg.QueueSize, log, m)
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Start(ctx); err != nil {
			log.WithError(err).Error("controller stopped")
			cancel()
		}
	}()
	log.WithFields(logrus.Fields{
		"target":   brokers[0].Name,
		"data":     cfg.Topics.Data,
		"command":  cfg.Topics.Command,
		"cooldown": cfg.Cooldown,
	}).Info("controller running")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	cancel()
	<-done
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
	cmds.Close()
}
