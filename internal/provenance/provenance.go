// Package provenance classifies asset identifiers as clean or tainted from
// their recent ledger history and remembers every taint permanently.
package provenance

import (
	"context"
	"strings"

	"qgate/internal/ledger"
)

// Verdict is the provenance classification of an identifier. The zero value
// is returned alongside errors and must never be read as clean.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictClean
	VerdictTainted
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictTainted:
		return "tainted"
	default:
		return "unknown"
	}
}

// DefaultWindow is the number of most recent history records inspected.
const DefaultWindow = 50

// Policy is the provenance denylist.
type Policy struct {
	// Exchanges are counterparty accounts whose involvement taints a record.
	Exchanges map[string]struct{}
	// Markers are memo substrings, matched case-insensitively.
	Markers []string
	// Window is the number of most recent records inspected.
	Window int
}

// DefaultPolicy returns the built-in denylist.
func DefaultPolicy() Policy {
	return NewPolicy(
		[]string{"exchange_wallet_1", "exchange_wallet_2", "third_party_1"},
		[]string{"exchange", "defi", "pow_blockchain", "altcoin", "erc20_token"},
		DefaultWindow,
	)
}

// NewPolicy builds a Policy from plain lists. A non-positive window falls
// back to DefaultWindow.
func NewPolicy(exchanges, markers []string, window int) Policy {
	p := Policy{
		Exchanges: make(map[string]struct{}, len(exchanges)),
		Markers:   make([]string, 0, len(markers)),
		Window:    window,
	}
	for _, e := range exchanges {
		if e != "" {
			p.Exchanges[e] = struct{}{}
		}
	}
	for _, m := range markers {
		if m != "" {
			p.Markers = append(p.Markers, strings.ToLower(m))
		}
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// RejectionCache remembers tainted identifiers. Implementations synchronize
// internally; entries are never removed.
type RejectionCache interface {
	// MarkTainted records id and reports whether it was newly inserted.
	MarkTainted(ctx context.Context, id ledger.AssetID) (bool, error)
	IsTainted(ctx context.Context, id ledger.AssetID) (bool, error)
	Len(ctx context.Context) (int, error)
}

// RejectionSink is notified once for every newly tainted identifier, for
// example to mirror the rejection on chain.
type RejectionSink interface {
	RecordRejection(ctx context.Context, id ledger.AssetID) error
}
