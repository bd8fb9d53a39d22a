// Package topology implements the Topology Guard: a pure function that
// validates an admission against the active communication topology and
// computes routing intent. It never mutates Router state.
package topology

import (
	"fmt"

	"github.com/samber/lo"
)

// Topology is the active communication pattern.
type Topology string

const (
	Star  Topology = "star"
	Chain Topology = "chain"
	Flat  Topology = "flat"
)

// Fixed role set and chain cycle, per §4.1.
const (
	Planner    = "planner"
	Coder      = "coder"
	Runner     = "runner"
	Critic     = "critic"
	Summarizer = "summarizer"
)

// EntryRole is the role external senders must address; adopted as
// Planner per the spec's open-question resolution.
const EntryRole = Planner

// StarHub is the fixed hub role under Star topology.
const StarHub = Planner

var chainNext = map[string]string{
	Planner:    Coder,
	Coder:      Runner,
	Runner:     Critic,
	Critic:     Summarizer,
	Summarizer: Planner,
}

var roles = []string{Planner, Coder, Runner, Critic, Summarizer}

// DefaultFanoutLimit is the MVP default for Flat fan-out.
const DefaultFanoutLimit = 2

// IntentKind enumerates the routing decisions the Guard can return.
type IntentKind int

const (
	IntentDirect IntentKind = iota
	IntentRouteViaHub
	IntentFanout
)

// Intent describes how the Router should admit a validated message.
type Intent struct {
	Kind       IntentKind
	To         string   // IntentDirect
	Hub        string   // IntentRouteViaHub
	ForwardTo  string   // IntentRouteViaHub: opaque forward_to hint
	Recipients []string // IntentFanout
}

// Violation is returned when admission must be rejected.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return v.Reason }

// Validate computes routing intent for (topology, sender, recipient) or
// (topology, sender, recipients) under Flat. recipients must be nil for
// Star/Chain and non-empty for Flat.
func Validate(topo Topology, sender, recipient string, recipients []string, fanoutLimit int) (*Intent, error) {
	switch topo {
	case Star:
		return validateStar(sender, recipient)
	case Chain:
		return validateChain(sender, recipient)
	case Flat:
		return validateFlat(sender, recipients, fanoutLimit)
	default:
		return nil, &Violation{Reason: fmt.Sprintf("unknown topology %q", topo)}
	}
}

func validateStar(sender, recipient string) (*Intent, error) {
	if sender == StarHub || recipient == StarHub {
		return &Intent{Kind: IntentDirect, To: recipient}, nil
	}
	// Neither party is the hub: rewrite to a single message addressed to
	// the hub, carrying the true destination as a forward hint. Never
	// duplicate.
	return &Intent{Kind: IntentRouteViaHub, Hub: StarHub, ForwardTo: recipient}, nil
}

func validateChain(sender, recipient string) (*Intent, error) {
	effectiveSender := sender
	if !lo.Contains(roles, sender) {
		// External senders must target the entry role.
		if recipient != EntryRole {
			return nil, &Violation{Reason: "external sender must address entry role"}
		}
		return &Intent{Kind: IntentDirect, To: recipient}, nil
	}
	next, ok := chainNext[effectiveSender]
	if !ok || recipient != next {
		return nil, &Violation{Reason: fmt.Sprintf("chain requires %s -> %s, got %s -> %s", sender, next, sender, recipient)}
	}
	return &Intent{Kind: IntentDirect, To: recipient}, nil
}

func validateFlat(sender string, recipients []string, fanoutLimit int) (*Intent, error) {
	if fanoutLimit <= 0 {
		fanoutLimit = DefaultFanoutLimit
	}
	// Blank recipient slots never count toward the fan-out bound.
	recipients = lo.Filter(recipients, func(r string, _ int) bool { return r != "" })
	if len(recipients) == 0 {
		return nil, &Violation{Reason: "flat topology requires a non-empty recipients list"}
	}
	if len(recipients) > fanoutLimit {
		return nil, &Violation{Reason: fmt.Sprintf("flat fan-out %d exceeds limit %d", len(recipients), fanoutLimit)}
	}
	out := make([]string, len(recipients))
	copy(out, recipients)
	return &Intent{Kind: IntentFanout, Recipients: out}, nil
}

// NextHop returns the chain successor of a role, and whether one exists.
func NextHop(role string) (string, bool) {
	n, ok := chainNext[role]
	return n, ok
}

// IsRole reports whether name is one of the five fixed APEX roles.
func IsRole(name string) bool {
	return lo.Contains(roles, name)
}
