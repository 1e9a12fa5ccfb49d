package sensor_simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/broker"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

// Target is one named broker endpoint readings are published to.
type Target struct {
	Name      string
	Publisher broker.IPublisher
}

// PublishPolicy bounds how hard one target is tried before it is given up on.
type PublishPolicy struct {
	Timeout      time.Duration // per attempt
	Retries      int           // extra attempts after the first
	RetryDelay   time.Duration
	BreakerFails int           // consecutive failures that open the breaker
	BreakerOpen  time.Duration // how long the breaker stays open
}

func DefaultPublishPolicy() PublishPolicy {
	return PublishPolicy{
		Timeout:      3 * time.Second,
		Retries:      1,
		RetryDelay:   200 * time.Millisecond,
		BreakerFails: 5,
		BreakerOpen:  30 * time.Second,
	}
}

type fanTarget struct {
	name string
	pub  broker.IPublisher
	cb   *gobreaker.CircuitBreaker
}

// FanOutPublisher publishes every reading to all targets. Targets fail
// independently.
type FanOutPublisher struct {
	targets []*fanTarget
	policy  PublishPolicy
	log     *logrus.Entry
	metrics *metrics.Telemetry
}

func NewFanOutPublisher(targets []Target, policy PublishPolicy, log *logrus.Entry, m *metrics.Telemetry) (*FanOutPublisher, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no publish targets", model.ErrConfig)
	}
	if policy.Timeout <= 0 {
		return nil, fmt.Errorf("%w: publish timeout must be positive", model.ErrConfig)
	}
	log = logger.OrDefault(log, "publisher")

	f := &FanOutPublisher{policy: policy, log: log, metrics: m}
	for _, t := range targets {
		if t.Publisher == nil {
			return nil, fmt.Errorf("%w: target %q has no publisher", model.ErrConfig, t.Name)
		}
		f.targets = append(f.targets, &fanTarget{name: t.Name, pub: t.Publisher, cb: f.breaker(t.Name)})
	}
	return f, nil
}

func (f *FanOutPublisher) breaker(name string) *gobreaker.CircuitBreaker {
	fails := f.policy.BreakerFails
	if fails < 1 {
		fails = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: f.policy.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.WithFields(logrus.Fields{"target": name, "from": from.String(), "to": to.String()}).
				Warn("publisher: breaker state change")
			f.metrics.BreakerOpen(name, to != gobreaker.StateClosed)
		},
	})
}

// Targets returns the configured target names in publish order.
func (f *FanOutPublisher) Targets() []string {
	out := make([]string, len(f.targets))
	for i, t := range f.targets {
		out[i] = t.name
	}
	return out
}

// PublishAll serializes each reading once, then walks the batch on every
// target concurrently. A slow target only delays its own walk. The returned
// error joins every per-target failure.
func (f *FanOutPublisher) PublishAll(ctx context.Context, readings []model.Reading) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	type encoded struct {
		r       model.Reading
		payload []byte
	}
	batch := make([]encoded, 0, len(readings))
	for _, r := range readings {
		payload, err := messages.EncodeReading(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", r.SensorID, err))
			continue
		}
		batch = append(batch, encoded{r: r, payload: payload})
	}

	var g errgroup.Group
	for _, t := range f.targets {
		g.Go(func() error {
			for _, e := range batch {
				r := e.r
				if err := f.publishOne(ctx, t, e.payload); err != nil {
					f.metrics.PublishFailed(t.name)
					f.log.WithError(err).WithFields(logrus.Fields{"target": t.name, "plant_id": r.SensorID}).
						Warn("publisher: publish failed")
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s -> %s: %w", r.SensorID, t.name, err))
					mu.Unlock()
					continue
				}
				f.metrics.ReadingPublished(t.name)
				f.log.WithFields(logrus.Fields{
					"target":      t.name,
					"plant_id":    r.SensorID,
					"temperature": r.Temperature,
					"humidity":    r.Humidity,
					"water_level": r.WaterLevel,
				}).Debug("publisher: reading published")
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (f *FanOutPublisher) publishOne(ctx context.Context, t *fanTarget, payload []byte) error {
	_, err := t.cb.Execute(func() (any, error) {
		bo := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(f.policy.RetryDelay), uint64(max(f.policy.Retries, 0))),
			ctx,
		)
		return nil, backoff.Retry(func() error {
			pctx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
			defer cancel()
			return t.pub.PublishMessage(pctx, payload)
		}, bo)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: breaker %s", model.ErrTransport, err)
	}
	return err
}

// Close closes every target's publisher.
func (f *FanOutPublisher) Close() {
	for _, t := range f.targets {
		t.pub.Close()
	}
}
