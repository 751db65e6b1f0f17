package rates

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultRefreshInterval = 4 * time.Hour

// Refresher keeps a Cache fresh from a background goroutine. It refreshes once
// on Start and then on every tick until Stop.
type Refresher struct {
	Cache    *Cache
	Interval time.Duration
	Timeout  time.Duration // per refresh, on top of the source's own client timeout

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRefresher(cache *Cache, interval time.Duration, log *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Refresher{
		Cache:    cache,
		Interval: interval,
		Timeout:  time.Minute,
		log:      log,
	}
}

func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.ticker, r.stop)

	r.log.Info("rate refresher started", zap.Duration("interval", r.Interval))
}

// Stop waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
	r.log.Info("rate refresher stopped")
}

func (r *Refresher) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer r.wg.Done()

	r.refresh()
	for {
		select {
		case <-ticker.C:
			r.refresh()
		case <-stop:
			return
		}
	}
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	r.Cache.Refresh(ctx)
}
