package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/services/monitor"
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
	log := logger.For("monitor")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokers, err := cfg.Broker.Configs()
	if err != nil {
		log.Fatalf("brokers: %v", err)
	}
	// the monitor follows a single broker, the first configured
	conn, err := broker.NewConn(ctx, brokers[0], log)
	if err != nil {
		log.Fatalf("MQTT connect error: %v", err)
	}

	hub := monitor.NewHub(logger.For("hub"))
	opts := []monitor.Option{
		monitor.WithMetrics(m),
		monitor.WithLogger(logger.For("demux")),
		monitor.WithSinkQueue(cfg.SinkQueue),
		monitor.WithSink(hub),
	}

	var influx influxdb2.Client
	if cfg.InfluxURL != "" {
		influx = influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
			influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.InfluxTimeout.Seconds())))
		sink := monitor.NewInfluxSink(influx.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket), cfg.InfluxMeasurement)
		opts = append(opts, monitor.WithSink(sink))
		log.WithFields(logrus.Fields{"url": cfg.InfluxURL, "bucket": cfg.InfluxBucket}).Info("influx mirror enabled")
	}

	demux, err := monitor.NewDemux(cfg.HistorySize, opts...)
	if err != nil {
		log.Fatalf("demux: %v", err)
	}
	sub := monitor.NewSubscriber(broker.NewConsumer(conn, byte(cfg.Broker.QoS), nil, cfg.Topics.Data), demux, logger.For("subscriber"), m)

	go demux.Run(ctx)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		if err := sub.Start(ctx); err != nil {
			log.WithError(err).Error("subscriber stopped")
		}
	}()

	api := monitor.NewAPI(demux, sub, hub, reg, logger.For("api"))
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("monitor HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down...")

	cancel()
	<-subDone
	hub.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	if influx != nil {
		influx.Close()
	}
	conn.Close()
}
