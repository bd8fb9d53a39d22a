package db

import (
	"github.com/apex-run/apex/internal/message"
	"github.com/apex-run/apex/internal/topology"
)

// IntentLogAdapter implements switchengine.IntentLog against the sqlite
// Client's async write queue. Writes are queued asynchronously, but when
// the queue is full QueueWrite performs the write synchronously in the
// caller's PREPARE/QUIESCE path.
type IntentLogAdapter struct {
	client *Client
}

// NewIntentLogAdapter wraps a Client as a switchengine.IntentLog.
func NewIntentLogAdapter(client *Client) *IntentLogAdapter {
	return &IntentLogAdapter{client: client}
}

func (a *IntentLogAdapter) BeginPrepare(target topology.Topology) error {
	a.client.QueueWrite(WriteTypeIntentLog, &IntentLogEntry{
		Kind:     "begin_prepare",
		Topology: string(target),
	}, nil)
	return nil
}

func (a *IntentLogAdapter) Commit(epoch uint64) error {
	a.client.QueueWrite(WriteTypeIntentLog, &IntentLogEntry{
		Kind:  "commit",
		Epoch: epoch,
	}, nil)
	return nil
}

func (a *IntentLogAdapter) Abort(reason string, dropped map[message.DropReason]int64) error {
	asStr := make(map[string]interface{}, len(dropped))
	for k, v := range dropped {
		asStr[string(k)] = v
	}
	a.client.QueueWrite(WriteTypeIntentLog, &IntentLogEntry{
		Kind:    "abort",
		Reason:  reason,
		Dropped: asStr,
	}, nil)
	return nil
}
