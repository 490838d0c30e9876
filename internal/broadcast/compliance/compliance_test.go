package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/troikatech/calling-agent/internal/broadcast/domain"
)

type fakeOptOutStore struct {
	active bool
	err    error
}

func (f *fakeOptOutStore) IsActiveOptOut(ctx context.Context, phone string) (bool, error) {
	return f.active, f.err
}

type fakeDNDChecker struct {
	decision Decision
	err      error
}

func (f *fakeDNDChecker) Check(ctx context.Context, phone string) (Decision, error) {
	return f.decision, f.err
}

func TestFilter_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       domain.Compliance
		optOut    *fakeOptOutStore
		dnd       *fakeDNDChecker
		wantDial  bool
		wantState domain.CallStatus
	}{
		{
			name:     "dials when nothing blocks",
			cfg:      domain.Compliance{DNDRespect: false},
			optOut:   &fakeOptOutStore{active: false},
			dnd:      &fakeDNDChecker{decision: Allowed},
			wantDial: true,
		},
		{
			name:      "opt-out short-circuits even without DND check",
			cfg:       domain.Compliance{DNDRespect: false},
			optOut:    &fakeOptOutStore{active: true},
			dnd:       &fakeDNDChecker{decision: Allowed},
			wantDial:  false,
			wantState: domain.CallOptedOut,
		},
		{
			name:      "DND block takes effect before opt-out is checked",
			cfg:       domain.Compliance{DNDRespect: true},
			optOut:    &fakeOptOutStore{active: false},
			dnd:       &fakeDNDChecker{decision: Blocked},
			wantDial:  false,
			wantState: domain.CallFailed,
		},
		{
			name:     "unreachable DND registry is treated as unchecked, not blocking",
			cfg:      domain.Compliance{DNDRespect: true},
			optOut:   &fakeOptOutStore{active: false},
			dnd:      &fakeDNDChecker{err: errors.New("registry unreachable")},
			wantDial: true,
		},
		{
			name:      "DND not consulted when campaign doesn't opt in, opt-out still applies",
			cfg:       domain.Compliance{DNDRespect: false},
			optOut:    &fakeOptOutStore{active: true},
			dnd:       &fakeDNDChecker{decision: Blocked},
			wantDial:  false,
			wantState: domain.CallOptedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.optOut, tt.dnd)
			outcome, err := f.Evaluate(context.Background(), tt.cfg, "+15551234567")
			if err != nil {
				t.Fatalf("Evaluate() unexpected error: %v", err)
			}
			if outcome.Dial != tt.wantDial {
				t.Errorf("Dial = %v, want %v", outcome.Dial, tt.wantDial)
			}
			if !tt.wantDial && outcome.FinalState != tt.wantState {
				t.Errorf("FinalState = %q, want %q", outcome.FinalState, tt.wantState)
			}
		})
	}
}

func TestFilter_EvaluatePropagatesOptOutStoreError(t *testing.T) {
	optOutErr := errors.New("mongo unavailable")
	f := New(&fakeOptOutStore{err: optOutErr}, &fakeDNDChecker{decision: Allowed})

	_, err := f.Evaluate(context.Background(), domain.Compliance{}, "+15551234567")
	if err == nil {
		t.Fatal("expected the opt-out store error to propagate")
	}
}

func TestNew_DefaultsNilDNDCheckerToNoop(t *testing.T) {
	f := New(&fakeOptOutStore{active: false}, nil)
	outcome, err := f.Evaluate(context.Background(), domain.Compliance{DNDRespect: true}, "+15551234567")
	if err != nil {
		t.Fatalf("Evaluate() unexpected error: %v", err)
	}
	if !outcome.Dial {
		t.Error("expected NoopDNDChecker default to allow the call through")
	}
}
