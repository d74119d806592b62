package portal

import (
	"errors"
	"sync"
	"time"

	"bankflow/pkg/logging"
	"bankflow/pkg/wizard"

	"go.uber.org/zap"
)

// ErrFlowNotFound is returned for unknown, expired or foreign wizards.
var ErrFlowNotFound = errors.New("portal: flow not found")

type entry struct {
	wizard *wizard.Wizard
	sid    string
	seen   time.Time
}

// registry keeps running wizards between requests. A wizard belongs to
// the session that started it and is dropped after ttl without use.
type registry struct {
	mu      sync.Mutex
	flows   map[string]*entry
	ttl     time.Duration
	now     func() time.Time
	logger  *logging.Logger
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newRegistry(ttl time.Duration, now func() time.Time, logger *logging.Logger) *registry {
	return &registry{
		flows:   make(map[string]*entry),
		ttl:     ttl,
		now:     now,
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (r *registry) put(sid string, w *wizard.Wizard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[w.ID()] = &entry{wizard: w, sid: sid, seen: r.now()}
}

func (r *registry) get(sid, id string) (*wizard.Wizard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.flows[id]
	if !ok || e.sid != sid {
		return nil, ErrFlowNotFound
	}
	now := r.now()
	if r.ttl > 0 && now.Sub(e.seen) > r.ttl {
		delete(r.flows, id)
		return nil, ErrFlowNotFound
	}
	e.seen = now
	return e.wizard, nil
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, id)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// sweep drops idle wizards and returns how many were removed.
func (r *registry) sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.flows {
		if now.Sub(e.seen) > r.ttl {
			delete(r.flows, id)
			removed++
		}
	}
	return removed
}

// run sweeps every interval until close is called.
func (r *registry) run(interval time.Duration) {
	defer close(r.stopped)
	if interval <= 0 {
		<-r.stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.logger.Debug("expired idle flows", zap.Int("count", n))
			}
		case <-r.stop:
			return
		}
	}
}

func (r *registry) close() {
	r.once.Do(func() {
		close(r.stop)
		<-r.stopped
	})
}
