// Package router implements the Router: the sole ingress/egress point for
// messages, enforcing topology, epoch stamping, dedup, capacity, TTL, and
// retry accounting (spec §4.1).
package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/dedup"
	"github.com/apex-run/apex/internal/message"
	"github.com/apex-run/apex/internal/metrics"
	"github.com/apex-run/apex/internal/topology"
	"github.com/apex-run/apex/internal/tracing"
)

// Config bounds the Router's behavior; see SPEC_FULL.md §6.
type Config struct {
	QueueCapacityPerReceiver int
	MessageTTL               time.Duration
	MaxAttempts              int
	FlatFanoutLimit          int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacityPerReceiver <= 0 {
		c.QueueCapacityPerReceiver = 10000
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = message.DefaultTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = message.DefaultMaxAttempts
	}
	if c.FlatFanoutLimit <= 0 {
		c.FlatFanoutLimit = topology.DefaultFanoutLimit
	}
	return c
}

// RejectReason is returned alongside a rejected admission.
type RejectReason = message.DropReason

// RouteResult is the structured outcome of Router.Route, matching the
// admission-rejection taxonomy of §7 rather than a plain Go error.
type RouteResult struct {
	Admitted bool
	Reason   RejectReason
	// Admitted messages, one per recipient produced (>1 under Flat).
	Messages []*message.Message
}

type recipientState struct {
	active *boundedQueue
	next   *boundedQueue
}

// Router is the sole ingress/egress point for all messages.
type Router struct {
	cfg    Config
	logger *zap.Logger
	dedup  *dedup.Store

	recipientsMu sync.RWMutex
	recipients   map[string]*recipientState

	// phaseMu serializes the atomic region that reads (bufferToNext,
	// epoch) and selects/appends to a queue, with respect to the Switch
	// Engine's PREPARE/COMMIT/ABORT transitions (§5).
	phaseMu      sync.Mutex
	bufferToNext bool
	epoch        uint64

	countersMu sync.Mutex
	counters   map[RejectReason]int64
	admitted   int64
	duplicates int64
}

// New constructs a Router. epoch starts at 1 per §3.
func New(cfg Config, dedupStore *dedup.Store, logger *zap.Logger) *Router {
	return &Router{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		dedup:      dedupStore,
		recipients: make(map[string]*recipientState),
		epoch:      1,
		counters:   make(map[RejectReason]int64),
	}
}

func (r *Router) recipient(name string) *recipientState {
	r.recipientsMu.RLock()
	rs, ok := r.recipients[name]
	r.recipientsMu.RUnlock()
	if ok {
		return rs
	}

	r.recipientsMu.Lock()
	defer r.recipientsMu.Unlock()
	if rs, ok = r.recipients[name]; ok {
		return rs
	}
	rs = &recipientState{
		active: newBoundedQueue(r.cfg.QueueCapacityPerReceiver),
		next:   newBoundedQueue(r.cfg.QueueCapacityPerReceiver),
	}
	r.recipients[name] = rs
	return rs
}

func (r *Router) reject(reason RejectReason) RouteResult {
	r.countersMu.Lock()
	r.counters[reason]++
	r.countersMu.Unlock()
	metrics.MessagesDropped.WithLabelValues(string(reason)).Inc()
	return RouteResult{Admitted: false, Reason: reason}
}

// Route admits a single-recipient or Flat multi-recipient message. For
// Flat, pass recipients via msg.Recipient = "" and recipients non-nil.
func (r *Router) Route(ctx context.Context, topo topology.Topology, msg *message.Message, recipients []string) RouteResult {
	_, span := tracing.StartRouteSpan(ctx, msg.EpisodeID, msg.Recipient)
	defer span.End()

	if err := validatePayload(msg); err != nil {
		return r.reject(message.DropInvalidPayload)
	}

	intent, err := topology.Validate(topo, msg.Sender, msg.Recipient, recipients, r.cfg.FlatFanoutLimit)
	if err != nil {
		return r.reject(message.DropTopologyViolation)
	}

	switch intent.Kind {
	case topology.IntentDirect:
		res := r.admitOne(msg, intent.To)
		if res.Admitted {
			metrics.MessagesAdmitted.WithLabelValues(string(topo)).Inc()
		}
		return res
	case topology.IntentRouteViaHub:
		fwd := *msg
		payload := make(map[string]interface{}, len(msg.Payload)+1)
		for k, v := range msg.Payload {
			payload[k] = v
		}
		payload["forward_to"] = intent.ForwardTo
		fwd.Payload = payload
		res := r.admitOne(&fwd, intent.Hub)
		if res.Admitted {
			metrics.MessagesAdmitted.WithLabelValues(string(topo)).Inc()
		}
		return res
	case topology.IntentFanout:
		out := make([]*message.Message, 0, len(intent.Recipients))
		for _, to := range intent.Recipients {
			clone := msg.Clone(to)
			res := r.admitOne(clone, to)
			if !res.Admitted {
				return res
			}
			metrics.MessagesAdmitted.WithLabelValues(string(topo)).Inc()
			out = append(out, res.Messages...)
		}
		return RouteResult{Admitted: true, Messages: out}
	default:
		return r.reject(message.DropTopologyViolation)
	}
}

func (r *Router) admitOne(msg *message.Message, recipient string) RouteResult {
	if r.dedup.CheckAndMark(recipient, msg.EpisodeID, msg.MsgID) {
		msg.Redelivered = true
		r.countersMu.Lock()
		r.duplicates++
		r.countersMu.Unlock()
		metrics.MessagesDuplicate.Inc()
		return r.reject(message.DropDedupDuplicate)
	}

	rs := r.recipient(recipient)

	r.phaseMu.Lock()
	useNext := r.bufferToNext
	epoch := r.epoch
	if useNext {
		epoch++
	}
	msg.Recipient = recipient
	msg.TopoEpoch = epoch

	var q *boundedQueue
	if useNext {
		q = rs.next
	} else {
		q = rs.active
	}
	ok := q.tryPush(msg)
	r.phaseMu.Unlock()

	if !ok {
		return r.reject(message.DropQueueFull)
	}
	r.countersMu.Lock()
	r.admitted++
	r.countersMu.Unlock()
	metrics.QueueDepth.WithLabelValues(recipient).Set(float64(q.len()))
	return RouteResult{Admitted: true, Messages: []*message.Message{msg}}
}

// Dequeue returns the next message for agentID from Q_active, honoring
// I2 (causal monotonicity): Q_next never substitutes for an empty
// Q_active; only COMMIT performs that swap. Expired messages are
// discarded and the call recurses.
func (r *Router) Dequeue(agentID string) *message.Message {
	rs := r.recipient(agentID)
	for {
		msg := rs.active.pop()
		if msg == nil {
			return nil
		}
		if msg.Expired(time.Now()) {
			msg.DropReason = message.DropExpired
			r.countersMu.Lock()
			r.counters[message.DropExpired]++
			r.countersMu.Unlock()
			continue
		}
		return msg
	}
}

// Retry re-admits msg after a transient consumer failure. It increments
// the attempt count and marks the message redelivered; it applies no
// delay or jitter (Router itself schedules nothing).
func (r *Router) Retry(msg *message.Message) RouteResult {
	if msg.MaxAttemptsExceeded(r.cfg.MaxAttempts) {
		msg.DropReason = message.DropMaxAttempts
		return r.reject(message.DropMaxAttempts)
	}
	msg.MarkRetry()
	rs := r.recipient(msg.Recipient)

	r.phaseMu.Lock()
	useNext := r.bufferToNext
	epoch := r.epoch
	if useNext {
		epoch++
	}
	msg.TopoEpoch = epoch
	var q *boundedQueue
	if useNext {
		q = rs.next
	} else {
		q = rs.active
	}
	ok := q.tryPush(msg)
	r.phaseMu.Unlock()

	if !ok {
		return r.reject(message.DropQueueFull)
	}
	return RouteResult{Admitted: true, Messages: []*message.Message{msg}}
}

// RetryBackoffJitter returns ±10% jitter applied to a base delay, used by
// consumers between Retry calls.
func RetryBackoffJitter(base time.Duration) time.Duration {
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(base) * jitter)
}

// QueueDepths reports the current Q_active length per recipient.
func (r *Router) QueueDepths() map[string]int {
	r.recipientsMu.RLock()
	defer r.recipientsMu.RUnlock()
	out := make(map[string]int, len(r.recipients))
	for name, rs := range r.recipients {
		out[name] = rs.active.len()
	}
	return out
}

// TotalActiveDepth sums Q_active across all recipients; used by the
// Switch Engine's QUIESCE wait.
func (r *Router) TotalActiveDepth() int {
	r.recipientsMu.RLock()
	defer r.recipientsMu.RUnlock()
	total := 0
	for _, rs := range r.recipients {
		total += rs.active.len()
	}
	return total
}

// Counters returns a snapshot of drop-reason counts plus admitted total.
func (r *Router) Counters() (admitted int64, duplicates int64, byReason map[RejectReason]int64) {
	r.countersMu.Lock()
	defer r.countersMu.Unlock()
	out := make(map[RejectReason]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return r.admitted, r.duplicates, out
}

func validatePayload(msg *message.Message) error {
	// Size was already validated at message.New construction time; this
	// defends against callers that mutate Payload after construction.
	encoded := 0
	for k, v := range msg.Payload {
		encoded += len(k) + len(fmt.Sprint(v))
	}
	if encoded > message.PayloadMaxBytes {
		return fmt.Errorf("payload oversize")
	}
	return nil
}
