package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hr"
)

const (
	// FeatureName identifies the webhook engine in the feature registry.
	FeatureName = "webhook"

	// HistorySize bounds the delivery history; the oldest entries are overwritten.
	HistorySize uint32 = 64

	// BreakerFailures consecutive failures open a webhook's breaker.
	BreakerFailures = 5

	// BreakerCooldown is how long an open breaker rejects requests before probing again.
	BreakerCooldown = 30 * time.Second

	responseExcerpt = 512
)

// ErrHTTPStatus wraps non-2xx responses.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Lister supplies the current webhook list.
type Lister interface {
	List() []Config
}

// Delivery records the outcome of one webhook request.
type Delivery struct {
	ID        string        `json:"id"`
	WebhookID string        `json:"webhook_id,omitempty"`
	Webhook   string        `json:"webhook"`
	Event     hr.Event      `json:"event"`
	BPM       int           `json:"bpm"`
	Status    int           `json:"status,omitempty"`
	Response  string        `json:"response,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// OK reports a 2xx response without transport errors.
func (d Delivery) OK() bool {
	return d.Err == nil && d.Status >= 200 && d.Status < 300
}

func (d Delivery) String() string {
	if d.Err != nil {
		return fmt.Sprintf("webhook %s (%s, %d bpm): %v", d.Webhook, d.Event, d.BPM, d.Err)
	}
	return fmt.Sprintf("webhook %s (%s, %d bpm): %d in %s", d.Webhook, d.Event, d.BPM, d.Status, d.Duration.Round(time.Millisecond))
}

type response struct {
	status int
	body   string
}

// Engine fires matching webhooks for each update. Requests run on their own goroutines,
// so a slow endpoint never holds up the dispatcher or other outputs.
type Engine struct {
	hooks    Lister
	client   *http.Client
	breakers *hashmap.Map[string, *gobreaker.CircuitBreaker[response]]
	lastBPM  *hashmap.Map[string, int]
	history  mpmc.RichOverlappedRingBuffer[Delivery]
	group    *groutine.Group
	logger   *logrus.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a stopped engine reading webhooks from hooks.
func NewEngine(hooks Lister, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		hooks:    hooks,
		client:   &http.Client{},
		breakers: hashmap.New[string, *gobreaker.CircuitBreaker[response]](),
		lastBPM:  hashmap.New[string, int](),
		history:  mpmc.NewOverlappedRingBuffer[Delivery](HistorySize),
		group:    groutine.NewGroup(logger),
		logger:   logger,
	}
}

func (e *Engine) Name() string { return FeatureName }

func (e *Engine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancel(context.Background())
	}
	return nil
}

// Stop aborts in-flight requests and waits for their goroutines.
func (e *Engine) Stop(context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.ctx, e.cancel = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.group.Wait()
	return nil
}

func (e *Engine) runCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// Deliver starts one request per enabled webhook whose triggers match the event.
// It returns without waiting for any response.
func (e *Engine) Deliver(_ context.Context, u hr.Update) error {
	ctx := e.runCtx()
	if ctx == nil {
		return nil
	}

	bpm := u.Snapshot.BPM
	for _, cfg := range e.hooks.List() {
		if !cfg.Enabled || !cfg.Fires(u.Event) {
			continue
		}
		if u.Event == hr.EventUpdated && cfg.SkipUnchanged {
			if last, ok := e.lastBPM.Get(cfg.Key()); ok && last == bpm {
				continue
			}
			e.lastBPM.Set(cfg.Key(), bpm)
		}

		e.group.Go(ctx, "webhook-"+cfg.Name, func(ctx context.Context) {
			e.record(e.send(ctx, cfg, bpm, u.Event, true))
		})
	}
	return nil
}

// Test fires cfg once with the synthetic sample, ignoring its enabled flag, triggers and breaker.
func (e *Engine) Test(ctx context.Context, cfg Config) Delivery {
	e.logger.WithField("webhook", cfg.Name).Info("Testing webhook")
	d := e.send(ctx, cfg, TestBPM, EventTest, false)
	e.record(d)
	return d
}

// Wait blocks until all in-flight deliveries finish.
func (e *Engine) Wait() {
	e.group.Wait()
}

// Drain returns and removes the recorded deliveries, oldest first.
func (e *Engine) Drain() []Delivery {
	var out []Delivery
	for !e.history.IsEmpty() {
		d, err := e.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) record(d Delivery) {
	if _, err := e.history.EnqueueM(d); err != nil {
		e.logger.WithError(err).Debug("Failed to record webhook delivery")
	}
}

func (e *Engine) breaker(cfg Config) *gobreaker.CircuitBreaker[response] {
	key := cfg.Key()
	if cb, ok := e.breakers.Get(key); ok {
		return cb
	}
	cb, _ := e.breakers.GetOrInsert(key, gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.WithFields(logrus.Fields{
				"webhook": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Webhook circuit breaker changed state")
		},
	}))
	return cb
}

func (e *Engine) send(ctx context.Context, cfg Config, bpm int, event hr.Event, guarded bool) Delivery {
	start := time.Now()
	d := Delivery{
		ID:        ulid.Make().String(),
		WebhookID: cfg.ID,
		Webhook:   cfg.Name,
		Event:     event,
		BPM:       bpm,
		At:        start,
	}

	req, err := cfg.Render(bpm, event)
	if err != nil {
		d.Err = err
		e.logDelivery(d)
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	do := func() (response, error) {
		httpReq, err := req.HTTPRequest(ctx)
		if err != nil {
			return response{}, err
		}
		httpReq.Header.Set(DeliveryHeader, d.ID)

		resp, err := e.client.Do(httpReq)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()

		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerpt))
		r := response{status: resp.StatusCode, body: strings.TrimSpace(string(excerpt))}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return r, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
		}
		return r, nil
	}

	var r response
	if guarded {
		r, err = e.breaker(cfg).Execute(do)
	} else {
		r, err = do()
	}

	d.Status = r.status
	d.Response = r.body
	d.Err = err
	d.Duration = time.Since(start)
	e.logDelivery(d)
	return d
}

func (e *Engine) logDelivery(d Delivery) {
	fields := logrus.Fields{
		"webhook":  d.Webhook,
		"event":    d.Event,
		"bpm":      d.BPM,
		"delivery": d.ID,
		"duration": d.Duration,
	}
	if d.Status != 0 {
		fields["status"] = d.Status
	}
	if d.Err != nil {
		fields["error"] = d.Err
		e.logger.WithFields(fields).Warn("Webhook delivery failed")
		return
	}
	e.logger.WithFields(fields).Info("Webhook delivered")
}
