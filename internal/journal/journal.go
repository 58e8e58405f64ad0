package journal

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"quoter/internal/bus"
	"quoter/internal/obs"
	"quoter/internal/order"
	"quoter/pkg/exception"
)

const (
	DefaultCapacity      = 4096
	DefaultBatchSize     = 64
	DefaultFlushInterval = 200 * time.Millisecond
	DefaultWriteTimeout  = 3 * time.Second
)

// Entry is one persisted order transition. The journal is write-only audit and is never read
// back by the unit.
type Entry struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	OrderID       uint64    `gorm:"index"`
	Name          string    `gorm:"size:128"`
	InstrumentID  uint32    `gorm:"index"`
	Cause         string    `gorm:"size:64"`
	FromState     string    `gorm:"size:32"`
	ToState       string    `gorm:"size:32"`
	Qty           int64
	LeavesQty     int64
	Price         float64
	ExtRef        string `gorm:"size:64"`
	ElapsedMicros int64
	At            time.Time `gorm:"index"`
}

func (Entry) TableName() string {
	return "order_events"
}

// NewEntry maps an order event to its row.
func NewEntry(e order.Event) Entry {
	return Entry{
		OrderID:       e.OrderID,
		Name:          e.Name,
		InstrumentID:  uint32(e.InstrumentID),
		Cause:         e.Cause,
		FromState:     e.From.String(),
		ToState:       e.To.String(),
		Qty:           e.Qty,
		LeavesQty:     e.LeavesQty,
		Price:         e.Price,
		ExtRef:        e.ExtRef,
		ElapsedMicros: e.Elapsed.Microseconds(),
		At:            e.At,
	}
}

// Store persists batches of entries.
type Store interface {
	Insert(ctx context.Context, entries []Entry) error
}

// GormStore writes entries with gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the journal table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new gorm store")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, errors.Wrap(err, "migrate order_events")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, entries []Entry) error {
	return s.db.WithContext(ctx).CreateInBatches(entries, len(entries)).Error
}

type Config struct {
	Capacity      int           `yaml:"capacity"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Journal is an order.Recorder that hands events to a background writer. Record never blocks
// the supervisor goroutine; events that do not fit in the queue are dropped and counted.
type Journal struct {
	cfg     Config
	store   Store
	queue   *bus.Queue[order.Event]
	metrics *obs.Metrics
	wg      sync.WaitGroup
}

func New(store Store, cfg Config, metrics *obs.Metrics) *Journal {
	cfg.applyDefaults()
	return &Journal{
		cfg:     cfg,
		store:   store,
		queue:   bus.NewQueue[order.Event](cfg.Capacity),
		metrics: metrics,
	}
}

func (j *Journal) Record(e order.Event) {
	if err := j.queue.TryPublish(e); err != nil {
		j.metrics.IncQueueDrop()
		logs.Warnf("journal drop order %s event %s, err: %+v", e.Name, e.Cause, err)
	}
}

// Start runs the writer until Close.
func (j *Journal) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run()
	}()
}

// Close stops accepting events, flushes what is queued and waits for the writer.
func (j *Journal) Close() {
	j.queue.Close()
	j.wg.Wait()
}

func (j *Journal) run() {
	batch := make([]Entry, 0, j.cfg.BatchSize)
	for {
		e, ok := j.queue.Receive(j.cfg.FlushInterval)
		if ok {
			batch = append(batch, NewEntry(e))
			if len(batch) < j.cfg.BatchSize {
				continue
			}
		}
		if len(batch) > 0 {
			j.flush(batch)
			batch = batch[:0]
		}
		if !ok && j.queue.Drained() {
			return
		}
	}
}

func (j *Journal) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.WriteTimeout)
	defer cancel()
	if err := j.store.Insert(ctx, batch); err != nil {
		logs.Errorf("journal insert %d entries, err: %+v", len(batch), err)
	}
}
