package sensor_simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

// BatchPublisher publishes one tick worth of readings.
type BatchPublisher interface {
	PublishAll(ctx context.Context, readings []model.Reading) error
}

// Producer reads every sensor once per interval and publishes the batch.
type Producer struct {
	ids       []model.SensorID
	source    ReadingSource
	publisher BatchPublisher
	interval  time.Duration
	log       *logrus.Entry
	metrics   *metrics.Telemetry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProducer(ids []model.SensorID, source ReadingSource, publisher BatchPublisher, interval time.Duration,
	log *logrus.Entry, m *metrics.Telemetry) (*Producer, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no sensors", model.ErrConfig)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: publish interval must be positive, got %s", model.ErrConfig, interval)
	}
	if source == nil || publisher == nil {
		return nil, fmt.Errorf("%w: producer needs a source and a publisher", model.ErrConfig)
	}
	return &Producer{
		ids:       ids,
		source:    source,
		publisher: publisher,
		interval:  interval,
		log:       logger.OrDefault(log, "producer"),
		metrics:   m,
	}, nil
}

// Start runs the first tick immediately and then one per interval until
// Stop is called or ctx is cancelled.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("producer: already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	p.log.WithFields(logrus.Fields{"sensors": len(p.ids), "interval": p.interval}).Info("producer: started")
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the loop has exited.
func (p *Producer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Producer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer p.log.Info("producer: stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick reads every sensor and publishes the batch. A sensor whose read fails
// is skipped for this tick. Publishing is detached from ctx cancellation so
// a stop lets the batch finish within the publish timeout.
func (p *Producer) Tick(ctx context.Context) {
	batch := make([]model.Reading, 0, len(p.ids))
	for _, id := range p.ids {
		if ctx.Err() != nil {
			break
		}
		r, err := p.source.Next(ctx, id)
		if err != nil {
			p.metrics.SensorReadFailed(id.String())
			p.log.WithError(err).WithField("plant_id", id).Warn("producer: sensor read failed")
			continue
		}
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		return
	}
	if err := p.publisher.PublishAll(context.WithoutCancel(ctx), batch); err != nil {
		p.log.WithField("readings", len(batch)).Debug("producer: batch published with errors")
		return
	}
	p.log.WithField("readings", len(batch)).Debug("producer: batch published")
}
