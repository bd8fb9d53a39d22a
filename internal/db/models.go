package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB is a JSON-encoded column, stored as TEXT in sqlite.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// IntentLogEntry is one append-only row recording a Switch Engine
// phase transition, per §6's "Persisted state (optional)" contract.
type IntentLogEntry struct {
	ID        int64     `db:"id"`
	Kind      string    `db:"kind"` // begin_prepare | commit | abort
	Topology  string    `db:"topology"`
	Epoch     uint64    `db:"epoch"`
	Reason    string    `db:"reason"`
	Dropped   JSONB     `db:"dropped"`
	CreatedAt time.Time `db:"created_at"`
}

// DecisionRecordRow mirrors one controller.DecisionRecord for offline
// bandit-weight training (§12 supplemented feature). The training loop
// itself is out of scope; only the sink is implemented here.
type DecisionRecordRow struct {
	ID              int64     `db:"id"`
	Step            int64     `db:"step"`
	TopologyBefore  string    `db:"topology_before"`
	Action          string    `db:"action"`
	Epsilon         float64   `db:"epsilon"`
	SwitchAttempted bool      `db:"switch_attempted"`
	SwitchCommitted bool      `db:"switch_committed"`
	Epoch           uint64    `db:"epoch"`
	Features        JSONB     `db:"features"`
	CreatedAt       time.Time `db:"created_at"`
}
