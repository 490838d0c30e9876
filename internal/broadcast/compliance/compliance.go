// Package compliance is the Compliance Filter of spec §4.B: before any
// call is dialed it runs DND check, then opt-out check, in that fixed
// order, and is idempotent within a single dispatch tick.
package compliance

import (
	"context"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
)

type Decision string

const (
	Allowed Decision = "allowed"
	Blocked Decision = "blocked"
)

// DNDChecker abstracts the Do-Not-Disturb registry lookup. The teacher's
// codebase has no DND provider of its own, so this is a new external
// collaborator interface per spec.md's framing, with a no-op default.
type DNDChecker interface {
	Check(ctx context.Context, phone string) (Decision, error)
}

// NoopDNDChecker always allows, matching spec.md's default when no
// registry endpoint is configured.
type NoopDNDChecker struct{}

func (NoopDNDChecker) Check(ctx context.Context, phone string) (Decision, error) {
	return Allowed, nil
}

// OptOutStore is the narrow slice of the Persistence Gateway the filter
// needs, kept as an interface (like DNDChecker) so Evaluate is testable
// without a live Mongo connection.
type OptOutStore interface {
	IsActiveOptOut(ctx context.Context, phone string) (bool, error)
}

// Filter runs the fixed DND -> opt-out pipeline against the Persistence
// Gateway's opt-out store and an injected DNDChecker.
type Filter struct {
	store OptOutStore
	dnd   DNDChecker
}

func New(gateway OptOutStore, dnd DNDChecker) *Filter {
	if dnd == nil {
		dnd = NoopDNDChecker{}
	}
	return &Filter{store: gateway, dnd: dnd}
}

// Outcome is what the dispatch engine needs to know to resolve a
// candidate call without dialing it.
type Outcome struct {
	Dial       bool
	FinalState domain.CallStatus
	Reason     string
}

// Evaluate implements spec §4.B's fixed order: DND (only if the
// campaign's compliance config opts in), then opt-out.
func (f *Filter) Evaluate(ctx context.Context, cfg domain.Compliance, phone string) (Outcome, error) {
	if cfg.DNDRespect {
		decision, err := f.dnd.Check(ctx, phone)
		if err != nil {
			// An unreachable DND registry is treated as "unchecked": the
			// call proceeds to the opt-out check rather than blocking
			// campaigns on a down external dependency.
			decision = Allowed
		}
		if decision == Blocked {
			return Outcome{Dial: false, FinalState: domain.CallFailed, Reason: "dnd_blocked"}, nil
		}
	}

	active, err := f.store.IsActiveOptOut(ctx, phone)
	if err != nil {
		return Outcome{}, err
	}
	if active {
		return Outcome{Dial: false, FinalState: domain.CallOptedOut, Reason: "opted_out"}, nil
	}

	return Outcome{Dial: true}, nil
}
