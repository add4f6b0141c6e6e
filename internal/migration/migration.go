// Package migration performs the one-way move of an asset from restricted
// to open mode once the network is ready, validators agree and the asset's
// provenance is clean.
package migration

import (
	"context"
	"time"

	"qgate/internal/ledger"
	"qgate/internal/provenance"
)

// State is the migration position of an asset. The zero value is eligible.
type State int

const (
	StateEligible State = iota
	StateMigrated
)

func (s State) String() string {
	if s == StateMigrated {
		return "migrated"
	}
	return "eligible"
}

// Outcome reports what an attempt did. Unmet preconditions are outcomes,
// not errors.
type Outcome string

const (
	OutcomeMigrated        Outcome = "migrated"
	OutcomeAlreadyMigrated Outcome = "already_migrated"
	OutcomeNotReady        Outcome = "not_ready"
	OutcomeNoConsensus     Outcome = "no_consensus"
	OutcomeTainted         Outcome = "tainted"
)

// Store persists migration state. MarkMigrated is an atomic check-and-set:
// it returns false when the asset was already migrated.
type Store interface {
	State(ctx context.Context, id ledger.AssetID) (State, error)
	MarkMigrated(ctx context.Context, id ledger.AssetID, at time.Time) (bool, error)
}

// Readiness exposes the network readiness flag.
type Readiness interface {
	Ready() bool
}

// Voter casts consensus votes and evaluates the ledger.
type Voter interface {
	CastVotes(ctx context.Context, n int, approvalProbability float64) error
	ConsensusReached(threshold float64) (bool, error)
}

// Provenance re-checks an asset against fresh history.
type Provenance interface {
	CheckFresh(ctx context.Context, id ledger.AssetID) (provenance.Verdict, error)
}
