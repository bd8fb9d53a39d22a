// Package message defines the envelope type carried through the router
// and switch engine.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadMaxBytes is the hard size guard enforced at construction.
const PayloadMaxBytes = 524288

// DefaultTTL is applied when no explicit expiry is supplied.
const DefaultTTL = 60 * time.Second

// DefaultMaxAttempts is the retry ceiling.
const DefaultMaxAttempts = 5

// Priority distinguishes message classes for future DRR/WRED use; the
// core MVP schedules FIFO regardless of priority.
type Priority string

const (
	PriorityFinal  Priority = "final"
	PriorityDraft  Priority = "draft"
	PriorityCritic Priority = "critic"
)

// DropReason enumerates why a message never reached consumer dequeue.
type DropReason string

const (
	DropNone              DropReason = ""
	DropExpired           DropReason = "expired"
	DropMaxAttempts       DropReason = "max_attempts"
	DropQueueFull         DropReason = "queue_full"
	DropTopologyViolation DropReason = "topology_violation"
	DropDedupDuplicate    DropReason = "dedup_duplicate"
	DropInvalidPayload    DropReason = "invalid_payload"
)

// Broadcast is the literal recipient value meaning "all agents".
const Broadcast = "BROADCAST"

// Message is the mutable envelope routed between agents. Ownership is
// strictly with the Router between route() and dequeue().
type Message struct {
	EpisodeID   string
	MsgID       string
	Sender      string
	Recipient   string
	TopoEpoch   uint64
	Priority    Priority
	Payload     map[string]interface{}
	Attempt     int
	CreatedTS   time.Time
	ExpiresTS   time.Time
	Redelivered bool
	DropReason  DropReason
}

// New constructs a Message, assigning a fresh msg_id and validating the
// payload size. topo_epoch is left at zero; the Router authoritatively
// stamps it at ingress.
func New(episodeID, sender, recipient string, payload map[string]interface{}) (*Message, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if err := validatePayloadSize(payload); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Message{
		EpisodeID: episodeID,
		MsgID:     uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Priority:  PriorityFinal,
		Payload:   payload,
		Attempt:   0,
		CreatedTS: now,
		ExpiresTS: now.Add(DefaultTTL),
	}, nil
}

// WithTTL overrides the expiry relative to CreatedTS.
func (m *Message) WithTTL(ttl time.Duration) *Message {
	m.ExpiresTS = m.CreatedTS.Add(ttl)
	return m
}

// Expired reports whether the message has passed its expiry as of now.
func (m *Message) Expired(now time.Time) bool {
	return now.After(m.ExpiresTS)
}

// MarkRetry increments the attempt counter and sets redelivered; it does
// not check max_attempts — callers consult MaxAttemptsExceeded first.
func (m *Message) MarkRetry() {
	m.Attempt++
	m.Redelivered = true
}

// MaxAttemptsExceeded reports whether another retry would exceed the
// configured ceiling.
func (m *Message) MaxAttemptsExceeded(maxAttempts int) bool {
	return m.Attempt >= maxAttempts
}

// validatePayloadSize enforces the 512 KiB bound via JSON serialization,
// matching the size contract the original dataclass validated at
// __post_init__ time.
func validatePayloadSize(payload map[string]interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload not serializable: %w", err)
	}
	if len(encoded) > PayloadMaxBytes {
		return fmt.Errorf("payload size %d exceeds max %d bytes", len(encoded), PayloadMaxBytes)
	}
	return nil
}

// Clone returns a shallow copy suitable for per-recipient fan-out, with a
// fresh msg_id (Flat topology requires each recipient to get its own
// unique id, §4.1).
func (m *Message) Clone(recipient string) *Message {
	cp := *m
	cp.Recipient = recipient
	cp.MsgID = uuid.NewString()
	return &cp
}
