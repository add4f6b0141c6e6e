package provenance_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"qgate/internal/ledger"
	"qgate/internal/ledger/mocks"
	"qgate/internal/provenance"
	"qgate/internal/provenance/store"
	audit "qgate/pkg/platform/audit"
	auditmem "qgate/pkg/platform/audit/store/memory"
)

type FilterSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	history *mocks.MockHistoryReader
	cache   *store.InMemory
	filter  *provenance.Filter
}

func TestFilterSuite(t *testing.T) {
	suite.Run(t, new(FilterSuite))
}

func (s *FilterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.history = mocks.NewMockHistoryReader(s.ctrl)
	s.cache = store.NewInMemory()

	var err error
	s.filter, err = provenance.New(s.history, s.cache)
	s.Require().NoError(err)
}

func (s *FilterSuite) TearDownTest() {
	s.ctrl.Finish()
}

func records(recs ...ledger.TransactionRecord) []ledger.TransactionRecord {
	return recs
}

func cleanRecord(i int) ledger.TransactionRecord {
	return ledger.TransactionRecord{
		ID:          fmt.Sprintf("tx-%d", i),
		Source:      "GUSER",
		Destination: "GMERCHANT",
		Memo:        "coffee",
	}
}

func (s *FilterSuite) TestClassifyScenarios() {
	tests := []struct {
		name    string
		history []ledger.TransactionRecord
		want    provenance.Verdict
	}{
		{
			name:    "exchange memo marker in a different case",
			history: records(ledger.TransactionRecord{ID: "tx-1", Source: "A", Memo: "from EXCHANGE"}),
			want:    provenance.VerdictTainted,
		},
		{
			name:    "volatile technology marker",
			history: records(cleanRecord(1), ledger.TransactionRecord{ID: "tx-2", Source: "A", Memo: "bridged erc20_token"}),
			want:    provenance.VerdictTainted,
		},
		{
			name:    "exchange wallet as source",
			history: records(ledger.TransactionRecord{ID: "tx-1", Source: "exchange_wallet_1", Memo: "m"}),
			want:    provenance.VerdictTainted,
		},
		{
			name:    "exchange wallet as destination",
			history: records(ledger.TransactionRecord{ID: "tx-1", Source: "A", Destination: "exchange_wallet_2"}),
			want:    provenance.VerdictTainted,
		},
		{
			name:    "third party source",
			history: records(ledger.TransactionRecord{ID: "tx-1", Source: "third_party_1"}),
			want:    provenance.VerdictTainted,
		},
		{
			name:    "clean history",
			history: records(cleanRecord(1), cleanRecord(2)),
			want:    provenance.VerdictClean,
		},
		{
			name:    "empty history",
			history: nil,
			want:    provenance.VerdictClean,
		},
	}
	for i, tt := range tests {
		s.Run(tt.name, func() {
			id := ledger.AssetID(fmt.Sprintf("asset-%d", i))
			got, err := s.filter.Classify(context.Background(), id, tt.history)
			s.Require().NoError(err)
			s.Equal(tt.want, got)

			cached, err := s.filter.IsRejected(context.Background(), id)
			s.Require().NoError(err)
			s.Equal(tt.want == provenance.VerdictTainted, cached)
		})
	}
}

func (s *FilterSuite) TestClassifyIgnoresRecordsBeyondWindow() {
	history := make([]ledger.TransactionRecord, 0, provenance.DefaultWindow+1)
	for i := range provenance.DefaultWindow {
		history = append(history, cleanRecord(i))
	}
	history = append(history, ledger.TransactionRecord{ID: "old", Source: "exchange_wallet_1"})

	got, err := s.filter.Classify(context.Background(), "asset-1", history)
	s.Require().NoError(err)
	s.Equal(provenance.VerdictClean, got)
}

func (s *FilterSuite) TestVerdictIsMonotonic() {
	ctx := context.Background()

	got, err := s.filter.Classify(ctx, "asset-1", records(ledger.TransactionRecord{ID: "tx", Memo: "defi yield"}))
	s.Require().NoError(err)
	s.Equal(provenance.VerdictTainted, got)

	got, err = s.filter.Classify(ctx, "asset-1", records(cleanRecord(1)))
	s.Require().NoError(err)
	s.Equal(provenance.VerdictTainted, got, "a clean history never reverts a taint")
}

func (s *FilterSuite) TestCheckCachedTaintSkipsHistoryQuery() {
	ctx := context.Background()
	_, err := s.cache.MarkTainted(ctx, "asset-1")
	s.Require().NoError(err)

	// no EXPECT: any history call fails the test
	got, err := s.filter.Check(ctx, "asset-1")
	s.Require().NoError(err)
	s.Equal(provenance.VerdictTainted, got)
}

func (s *FilterSuite) TestCheckQueriesWindowOfHistory() {
	s.history.EXPECT().
		QueryTransactions(gomock.Any(), "asset-1", provenance.DefaultWindow).
		Return(records(cleanRecord(1)), nil)

	got, err := s.filter.Check(context.Background(), "asset-1")
	s.Require().NoError(err)
	s.Equal(provenance.VerdictClean, got)
}

func (s *FilterSuite) TestCheckQueryErrorIsNotClean() {
	s.history.EXPECT().
		QueryTransactions(gomock.Any(), "asset-1", gomock.Any()).
		Return(nil, errors.New("horizon timeout"))

	got, err := s.filter.Check(context.Background(), "asset-1")
	s.Require().Error(err)
	s.Equal(provenance.VerdictUnknown, got)

	cached, err := s.filter.IsRejected(context.Background(), "asset-1")
	s.Require().NoError(err)
	s.False(cached)
}

func (s *FilterSuite) TestCheckFreshStillHonoursCachedTaint() {
	ctx := context.Background()
	_, err := s.cache.MarkTainted(ctx, "asset-1")
	s.Require().NoError(err)

	s.history.EXPECT().
		QueryTransactions(gomock.Any(), "asset-1", gomock.Any()).
		Return(records(cleanRecord(1)), nil)

	got, err := s.filter.CheckFresh(ctx, "asset-1")
	s.Require().NoError(err)
	s.Equal(provenance.VerdictTainted, got)
}

type countingSink struct {
	calls []ledger.AssetID
	err   error
}

func (c *countingSink) RecordRejection(_ context.Context, id ledger.AssetID) error {
	c.calls = append(c.calls, id)
	return c.err
}

func TestFilter_RejectionSinkCalledOncePerNewTaint(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := &countingSink{err: errors.New("contract unavailable")}
	auditStore := auditmem.NewInMemoryStore()

	filter, err := provenance.New(mocks.NewMockHistoryReader(ctrl), store.NewInMemory(),
		provenance.WithRejectionSink(sink),
		provenance.WithAuditor(auditEmitter{auditStore}),
	)
	require.NoError(t, err)

	poisoned := records(ledger.TransactionRecord{ID: "tx", Source: "exchange_wallet_1"})
	for range 3 {
		got, err := filter.Classify(context.Background(), "asset-1", poisoned)
		require.NoError(t, err, "a failing sink does not fail classification")
		assert.Equal(t, provenance.VerdictTainted, got)
	}

	assert.Equal(t, []ledger.AssetID{"asset-1"}, sink.calls)

	events, err := auditStore.ListBySubject(context.Background(), "asset-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventAssetTainted), events[0].Action)
	assert.Equal(t, "source:exchange_wallet_1", events[0].Reason)
}

func TestFilter_CustomPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	filter, err := provenance.New(mocks.NewMockHistoryReader(ctrl), store.NewInMemory(),
		provenance.WithPolicy(provenance.NewPolicy([]string{"GBAD"}, []string{"Mixer"}, 2)),
	)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := filter.Classify(ctx, "a", records(ledger.TransactionRecord{Memo: "via mixer"}))
	require.NoError(t, err)
	assert.Equal(t, provenance.VerdictTainted, got)

	got, err = filter.Classify(ctx, "b", records(ledger.TransactionRecord{Memo: "exchange"}))
	require.NoError(t, err)
	assert.Equal(t, provenance.VerdictClean, got, "default markers replaced")

	got, err = filter.Classify(ctx, "c", records(cleanRecord(1), cleanRecord(2), ledger.TransactionRecord{Source: "GBAD"}))
	require.NoError(t, err)
	assert.Equal(t, provenance.VerdictClean, got, "window of 2")
}

func TestNew_RequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := provenance.New(nil, store.NewInMemory())
	assert.Error(t, err)

	_, err = provenance.New(mocks.NewMockHistoryReader(ctrl), nil)
	assert.Error(t, err)
}

type auditEmitter struct {
	store audit.Store
}

func (a auditEmitter) Emit(ctx context.Context, e audit.Event) error {
	return a.store.Append(ctx, e)
}
