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

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	sensorSimulator "github.com/LeonardoBeccarini/plant_monitor/internal/sensor-simulator"
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
	log := logger.For("sensor-simulator")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers, err := cfg.Broker.Configs()
	if err != nil {
		log.Fatalf("brokers: %v", err)
	}
	qos := byte(cfg.Broker.QoS)

	// one connection per target; a target that cannot be reached at startup
	// is left out, the rest keep publishing
	var (
		conns   []*broker.Conn
		targets []sensorSimulator.Target
	)
	for _, bc := range brokers {
		conn, err := broker.NewConn(ctx, bc, log)
		if err != nil {
			log.WithError(err).WithField("target", bc.Name).Error("broker unreachable, target skipped")
			continue
		}
		conns = append(conns, conn)
		targets = append(targets, sensorSimulator.Target{
			Name:      bc.Name,
			Publisher: broker.NewPublisher(conn, cfg.Topics.Data, qos, cfg.PublishTimeout),
		})
	}
	if len(targets) == 0 {
		log.Fatal("no broker target reachable")
	}

	fanOut, err := sensorSimulator.NewFanOutPublisher(targets, cfg.Policy(), logger.For("publisher"), m)
	if err != nil {
		log.Fatalf("publisher: %v", err)
	}
	ids := model.GenerateSensorIDs(cfg.Sensors)
	source := sensorSimulator.NewRandomSource(cfg.Ranges(), cfg.Seed)
	producer, err := sensorSimulator.NewProducer(ids, source, fanOut, cfg.Interval, logger.For("producer"), m)
	if err != nil {
		log.Fatalf("producer: %v", err)
	}

	// commands are taken from the first target only
	consumeCtx, stopConsume := context.WithCancel(ctx)
	consumeDone := make(chan struct{})
	if cfg.Dispatch {
		dispatcher := device.NewDispatcher(device.NewLogActuator(logger.For("actuator")), cfg.PumpRun, logger.For("dispatcher"), m)
		svc := device.NewService(broker.NewConsumer(conns[0], qos, nil, cfg.Topics.Command), dispatcher)
		go func() {
			defer close(consumeDone)
			if err := svc.Start(consumeCtx); err != nil {
				log.WithError(err).Error("command consumer stopped")
			}
		}()
	} else {
		close(consumeDone)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()

	if err := producer.Start(ctx); err != nil {
		log.Fatalf("producer: %v", err)
	}
	log.WithFields(logrus.Fields{
		"sensors":  len(ids),
		"targets":  fanOut.Targets(),
		"interval": cfg.Interval,
		"topic":    cfg.Topics.Data,
	}).Info("simulator running")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down...")

	producer.Stop()
	stopConsume()
	<-consumeDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsSrv.Shutdown(shutdownCtx)
	fanOut.Close()
}
