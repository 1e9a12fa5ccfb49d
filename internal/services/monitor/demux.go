package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
	"github.com/LeonardoBeccarini/plant_monitor/internal/model/messages"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/logger"
	"github.com/LeonardoBeccarini/plant_monitor/pkg/metrics"
)

const defaultSinkQueue = 1024

// Sink receives every buffered reading, off the delivery path.
type Sink interface {
	Consume(ctx context.Context, r model.Reading) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r model.Reading) error

func (f SinkFunc) Consume(ctx context.Context, r model.Reading) error { return f(ctx, r) }

type Option func(*Demux)

func WithSink(s Sink) Option { return func(d *Demux) { d.sinks = append(d.sinks, s) } }

func WithSinkQueue(n int) Option {
	return func(d *Demux) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithMetrics(m *metrics.Telemetry) Option { return func(d *Demux) { d.metrics = m } }

func WithLogger(l *logrus.Entry) Option { return func(d *Demux) { d.log = l } }

// Demux routes decoded readings into one History per sensor.
type Demux struct {
	capacity  int
	queueSize int
	sinks     []Sink
	queues    []chan model.Reading
	log       *logrus.Entry
	metrics   *metrics.Telemetry
	now       func() time.Time

	mu      sync.RWMutex
	sensors map[model.SensorID]*History
}

// NewDemux keeps capacity readings per sensor.
func NewDemux(capacity int, opts ...Option) (*Demux, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: history capacity must be positive, got %d", model.ErrConfig, capacity)
	}
	d := &Demux{
		capacity:  capacity,
		queueSize: defaultSinkQueue,
		now:       time.Now,
		sensors:   make(map[model.SensorID]*History),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logger.OrDefault(d.log, "demux")
	d.queues = make([]chan model.Reading, len(d.sinks))
	for i := range d.queues {
		d.queues[i] = make(chan model.Reading, d.queueSize)
	}
	return d, nil
}

// OnMessage decodes one wire payload and appends it to its sensor's
// history. A malformed payload changes nothing and returns an error wrapping
// ErrMalformedMessage.
func (d *Demux) OnMessage(raw []byte) error {
	r, err := messages.DecodeReading(raw, d.now())
	if err != nil {
		d.metrics.MessageMalformed()
		return err
	}
	d.history(r.SensorID).Append(r)

	for i, q := range d.queues {
		select {
		case q <- r:
		default:
			d.metrics.SinkDropped()
			d.log.WithFields(logrus.Fields{"plant_id": r.SensorID, "sink": i}).Warn("demux: sink queue full, reading not forwarded")
		}
	}
	return nil
}

func (d *Demux) history(id model.SensorID) *History {
	d.mu.RLock()
	h, ok := d.sensors[id]
	d.mu.RUnlock()
	if ok {
		return h
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok = d.sensors[id]; ok {
		return h
	}
	h = NewHistory(d.capacity)
	d.sensors[id] = h
	d.metrics.SetHistorySensors(len(d.sensors))
	d.log.WithField("plant_id", id).Info("demux: new sensor")
	return h
}

func (d *Demux) lookup(id model.SensorID) (*History, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.sensors[id]
	return h, ok
}

// Snapshot copies the sensor's history, oldest first. Unknown sensors
// return nil.
func (d *Demux) Snapshot(id model.SensorID) []model.Reading {
	return d.Last(id, 0)
}

// Last copies at most n of the sensor's newest readings, oldest first.
func (d *Demux) Last(id model.SensorID, n int) []model.Reading {
	h, ok := d.lookup(id)
	if !ok {
		return nil
	}
	return h.Last(n)
}

// Latest returns the sensor's newest reading.
func (d *Demux) Latest(id model.SensorID) (model.Reading, bool) {
	h, ok := d.lookup(id)
	if !ok {
		return model.Reading{}, false
	}
	return h.Latest()
}

// Len is the number of readings buffered for the sensor.
func (d *Demux) Len(id model.SensorID) int {
	h, ok := d.lookup(id)
	if !ok {
		return 0
	}
	return h.Len()
}

// SensorIDs lists every sensor seen so far, sorted.
func (d *Demux) SensorIDs() []model.SensorID {
	d.mu.RLock()
	ids := make([]model.SensorID, 0, len(d.sensors))
	for id := range d.sensors {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Demux) Capacity() int { return d.capacity }

// Run forwards queued readings until ctx is cancelled. Every sink drains its
// own queue, so a slow sink only drops its own readings.
func (d *Demux) Run(ctx context.Context) {
	var g errgroup.Group
	for i, s := range d.sinks {
		q := d.queues[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-q:
					if err := s.Consume(ctx, r); err != nil {
						d.log.WithError(err).WithField("plant_id", r.SensorID).Warn("demux: sink failed")
					}
				}
			}
		})
	}
	_ = g.Wait()
}
