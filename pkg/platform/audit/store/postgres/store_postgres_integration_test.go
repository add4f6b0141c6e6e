//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "qgate/pkg/platform/audit"
	"qgate/pkg/platform/audit/store/postgres"
	"qgate/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.postgres.Exec(context.Background(), postgres.Schema))
	s.store = postgres.New(s.postgres.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestAppendAndListBySubject() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(time.Second),
		Subject:   "coin-1",
		Action:    string(audit.EventMigrationCompleted),
		Decision:  "migrated",
		ActorID:   "ops-1",
		RequestID: "req-2",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: base,
		Subject:   "coin-1",
		Action:    string(audit.EventTransferSubmitted),
		Reference: "abc123",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		Subject:   "coin-2",
		Action:    string(audit.EventAssetTainted),
	}))

	events, err := s.store.ListBySubject(ctx, "coin-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)

	s.Equal(string(audit.EventTransferSubmitted), events[0].Action, "oldest first")
	s.Equal("abc123", events[0].Reference)
	s.WithinDuration(base, events[0].Timestamp, time.Millisecond)

	s.Equal(string(audit.EventMigrationCompleted), events[1].Action)
	s.Equal(audit.CategoryCompliance, events[1].Category, "category derived from the action")
	s.Equal("ops-1", events[1].ActorID)
	s.Equal("req-2", events[1].RequestID)
	s.Equal("migrated", events[1].Decision)
}

func (s *AuditStoreSuite) TestAppendWithIDIsIdempotent() {
	ctx := context.Background()
	id := uuid.New()
	event := audit.Event{
		Timestamp: time.Now().UTC(),
		Subject:   "coin-3",
		Action:    string(audit.EventRejectionRecorded),
	}

	s.Require().NoError(s.store.AppendWithID(ctx, id, event))
	s.Require().NoError(s.store.AppendWithID(ctx, id, event))

	events, err := s.store.ListBySubject(ctx, "coin-3")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *AuditStoreSuite) TestListRecentNewestFirst() {
	ctx := context.Background()
	base := time.Now().UTC()
	for i, subject := range []string{"coin-a", "coin-b", "coin-c"} {
		s.Require().NoError(s.store.Append(ctx, audit.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Subject:   subject,
			Action:    string(audit.EventOperatorRequest),
		}))
	}

	recent, err := s.store.ListRecent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("coin-c", recent[0].Subject)
	s.Equal("coin-b", recent[1].Subject)
	s.Equal(audit.CategoryOperations, recent[0].Category)
}
