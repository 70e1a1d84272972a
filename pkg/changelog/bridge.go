package changelog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/latticedb/pkg/log"
)

// Bridge is the CDC bridge task: it tails the change log from the LSN it
// last delivered and publishes every new entry into a Broker, on the same
// ticker-plus-stop-channel shape as the compaction scheduler. The bridge
// reads committed entries only, so a subscriber sees exactly the stream a
// remote consumer would get from scan_batch, in the same LSN order.
type Bridge struct {
	log      *Log
	broker   *Broker
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	lastLSN uint64
}

// NewBridge builds a bridge from clog into broker. Delivery starts at the
// log's current LSN, so only entries committed after Start are published;
// a consumer that needs history reads it through ScanBatch first and then
// subscribes.
func NewBridge(clog *Log, broker *Broker, interval time.Duration) *Bridge {
	return &Bridge{
		log:      clog,
		broker:   broker,
		interval: interval,
		logger:   log.WithComponent("cdc"),
	}
}

// Start launches the background loop. It is a no-op if already running.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopCh != nil {
		return nil
	}
	lsn, err := b.log.CurrentLSN()
	if err != nil {
		return err
	}
	b.lastLSN = lsn
	b.stopCh = make(chan struct{})
	go b.run(b.stopCh)
	return nil
}

// Stop signals the loop to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopCh == nil {
		return
	}
	close(b.stopCh)
	b.stopCh = nil
}

func (b *Bridge) run(stopCh chan struct{}) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drain(stopCh)
		case <-stopCh:
			return
		}
	}
}

// drain publishes every entry appended since the last tick, looping until
// the log has no more or the bridge is stopped.
func (b *Bridge) drain(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		b.mu.Lock()
		from := b.lastLSN + 1
		b.mu.Unlock()

		entries, hasMore, err := b.log.ScanBatch(from, 256)
		if err != nil {
			b.logger.Error().Err(err).Uint64("from_lsn", from).Msg("change log scan failed")
			return
		}
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			b.broker.Publish(entry)
		}

		b.mu.Lock()
		b.lastLSN = entries[len(entries)-1].LSN
		b.mu.Unlock()

		if !hasMore {
			return
		}
	}
}
