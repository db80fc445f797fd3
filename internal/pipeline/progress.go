package pipeline

import (
	"sync"

	"github.com/cradlewatch/cradlewatch/internal/metrics"
)

// Update is one progress message from a processing run. Consumers receive
// them lazily: a subscriber that falls behind loses intermediate updates
// rather than stalling the run.
type Update struct {
	RunID       string   `json:"run_id"`
	Stage       string   `json:"stage"`
	Index       int      `json:"index"`
	Total       int      `json:"total"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Path        string   `json:"path,omitempty"`
	Message     string   `json:"message,omitempty"`
	Done        bool     `json:"done"`
	Summary     *Summary `json:"summary,omitempty"`
}

// Processing stages reported in Update.Stage.
const (
	StageScan    = "scan"
	StageSkip    = "skip"
	StageProcess = "process"
	StageError   = "error"
	StageDone    = "done"
)

const subscriberBuffer = 64

// Broadcaster fans progress updates out to any number of subscribers.
// Publish never blocks: a full subscriber channel drops the update.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new consumer. The caller must Close the subscription
// when done or its channel stays registered forever.
func (b *Broadcaster) Subscribe() *Subscription {
	s := &Subscription{b: b, ch: make(chan Update, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers u to every current subscriber without blocking.
func (b *Broadcaster) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- u:
		default:
			metrics.ProgressDropsTotal.Inc()
		}
	}
}

// Subscription is one consumer's view of the progress stream.
type Subscription struct {
	b    *Broadcaster
	ch   chan Update
	once sync.Once
}

func (s *Subscription) C() <-chan Update {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.ch)
	})
}
