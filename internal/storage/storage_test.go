package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/agentlens/agentlens/types"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&SpanRow{}, &CommunicationRow{}))
	s := NewStore(db, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_FetchSpans(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()

	require.NoError(t, s.db.Create([]SpanRow{
		{
			ID: "s2", TraceID: "t1", ParentSpanID: "s1",
			OperationName: "llm.generate", ServiceName: "planner", AgentID: "agent-b",
			StartTimeMS: base + 100, EndTimeMS: base + 400,
			Status: "error", CommunicationType: "http",
			PromptTokens: 1000, CompletionTokens: 1000,
			Tags: `{"model":"gpt-4o-mini"}`,
			Logs: `not json at all{`,
		},
		{
			ID: "s1", TraceID: "t1",
			OperationName: "handle.request", ServiceName: "router", AgentID: "agent-a",
			StartTimeMS: base, DurationMS: 500,
			Status: "success",
			Tags:   `{"env":"prod"}`,
		},
		{
			ID: "other", TraceID: "t2",
			OperationName: "noop", ServiceName: "router",
			StartTimeMS: base, Status: "success",
		},
	}).Error)

	spans, err := s.FetchSpans(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, spans, 2)

	// Ordered by start time.
	assert.Equal(t, "s1", spans[0].ID)
	assert.Equal(t, "s2", spans[1].ID)

	assert.Equal(t, 500*time.Millisecond, spans[0].Duration)
	assert.Equal(t, map[string]string{"env": "prod"}, spans[0].Tags)

	// Duration derived from end-start, malformed logs replaced with empty.
	assert.Equal(t, 300*time.Millisecond, spans[1].Duration)
	assert.Empty(t, spans[1].Logs)
	assert.Equal(t, types.StatusError, spans[1].Status)
	// Cost backfilled from the pricing table: 1K/1K on gpt-4o-mini.
	assert.InDelta(t, 0.00075, spans[1].TotalCost, 1e-9)
}

func TestStore_FetchCommunications(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create([]CommunicationRow{
		{
			ID: "c1", TraceID: "t1", SourceSpanID: "s1", TargetSpanID: "s2",
			SourceAgentID: "agent-a", TargetAgentID: "agent-b",
			CommunicationType: "http", DurationMS: 120, Status: "success",
			Payload: `{"method":"tasks/create"}`,
		},
		{
			ID: "c2", TraceID: "t1", SourceSpanID: "s1", TargetSpanID: "gone",
			SourceAgentID: "agent-a", TargetAgentID: "agent-c",
			CommunicationType: "grpc", Status: "error",
			Payload: `{broken`,
		},
	}).Error)

	comms, err := s.FetchCommunications(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, comms, 2)

	assert.Equal(t, types.CommHTTP, comms[0].Communication)
	assert.Equal(t, 120*time.Millisecond, comms[0].Duration)
	assert.Equal(t, "tasks/create", comms[0].Payload["method"])

	// Malformed payload dropped, communication retained.
	assert.Equal(t, "c2", comms[1].ID)
	assert.Nil(t, comms[1].Payload)
}

func TestStore_ListTraceIDs(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Create([]SpanRow{
		{ID: "a", TraceID: "t1", Status: "success"},
		{ID: "b", TraceID: "t1", Status: "success"},
		{ID: "c", TraceID: "t2", Status: "success"},
	}).Error)

	ids, err := s.ListTraceIDs(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)
}

func TestStore_MySQLQueryShape(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	s := NewStore(db, zap.NewNop())

	mock.ExpectQuery("SELECT \\* FROM `spans` WHERE trace_id = \\?").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "trace_id", "status", "duration_ms"}).
			AddRow("s1", "t1", "success", 42))

	spans, err := s.FetchSpans(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 42*time.Millisecond, spans[0].Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}
