// Package storage provides the GORM-backed span store.
// This package is internal and should not be imported by external projects.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/agentlens/agentlens/trace"
	"github.com/agentlens/agentlens/trace/pricing"
	"github.com/agentlens/agentlens/types"
)

// Config configures the span store connection.
type Config struct {
	// Driver selects the SQL dialect: sqlite, mysql, or postgres.
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
	// MaxIdleConns bounds idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "agentlens.db",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// SpanRow is a span as persisted by the recording platform: millisecond
// timestamps, tags and logs as serialized JSON text.
type SpanRow struct {
	ID            string `gorm:"column:id;primaryKey"`
	TraceID       string `gorm:"column:trace_id;index"`
	ParentSpanID  string `gorm:"column:parent_span_id"`
	OperationName string `gorm:"column:operation_name"`
	ServiceName   string `gorm:"column:service_name"`
	AgentID       string `gorm:"column:agent_id"`

	StartTimeMS int64 `gorm:"column:start_time_ms"`
	EndTimeMS   int64 `gorm:"column:end_time_ms"`
	DurationMS  int64 `gorm:"column:duration_ms"`

	CommunicationType string `gorm:"column:communication_type"`
	Status            string `gorm:"column:status"`

	TotalCost        float64 `gorm:"column:total_cost"`
	PromptTokens     int     `gorm:"column:prompt_tokens"`
	CompletionTokens int     `gorm:"column:completion_tokens"`
	TotalTokens      int     `gorm:"column:total_tokens"`

	ContainerID string `gorm:"column:container_id"`
	Hostname    string `gorm:"column:hostname"`

	Tags string `gorm:"column:tags"`
	Logs string `gorm:"column:logs"`
}

// TableName implements gorm's table naming.
func (SpanRow) TableName() string { return "spans" }

// CommunicationRow is an A2A communication as persisted upstream.
type CommunicationRow struct {
	ID                string `gorm:"column:id;primaryKey"`
	TraceID           string `gorm:"column:trace_id;index"`
	SourceSpanID      string `gorm:"column:source_span_id"`
	TargetSpanID      string `gorm:"column:target_span_id"`
	SourceAgentID     string `gorm:"column:source_agent_id"`
	TargetAgentID     string `gorm:"column:target_agent_id"`
	CommunicationType string `gorm:"column:communication_type"`
	Protocol          string `gorm:"column:protocol"`
	DurationMS        int64  `gorm:"column:duration_ms"`
	Status            string `gorm:"column:status"`
	Payload           string `gorm:"column:payload"`
}

// TableName implements gorm's table naming.
func (CommunicationRow) TableName() string { return "a2a_communications" }

// Store reads span and communication rows and normalizes them into engine
// types. It implements trace.Store; it never writes.
type Store struct {
	db     *gorm.DB
	pricer *pricing.Calculator
	logger *zap.Logger
}

// Open connects to the configured database and returns a Store.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an existing gorm connection.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		pricer: pricing.Default(),
		logger: logger.With(zap.String("component", "span_store")),
	}
}

// FetchSpans returns the normalized spans of one trace, ordered by start
// time. Malformed serialized fields are logged as soft anomalies and
// replaced with empty values; they never fail the fetch.
func (s *Store) FetchSpans(ctx context.Context, traceID string) ([]*types.Span, error) {
	var rows []SpanRow
	err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("start_time_ms ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch spans for trace %s: %w", traceID, err)
	}

	raws := make([]trace.RawSpan, 0, len(rows))
	for _, row := range rows {
		raws = append(raws, trace.RawSpan{
			ID:                row.ID,
			TraceID:           row.TraceID,
			ParentSpanID:      row.ParentSpanID,
			OperationName:     row.OperationName,
			ServiceName:       row.ServiceName,
			AgentID:           row.AgentID,
			StartTimeMS:       row.StartTimeMS,
			EndTimeMS:         row.EndTimeMS,
			DurationMS:        row.DurationMS,
			CommunicationType: row.CommunicationType,
			Status:            row.Status,
			TotalCost:         row.TotalCost,
			PromptTokens:      row.PromptTokens,
			CompletionTokens:  row.CompletionTokens,
			TotalTokens:       row.TotalTokens,
			ContainerID:       row.ContainerID,
			Hostname:          row.Hostname,
			TagsJSON:          row.Tags,
			LogsJSON:          row.Logs,
		})
	}
	spans, anomalies := trace.NormalizeSpans(raws, s.pricer)
	s.logAnomalies(traceID, anomalies)
	return spans, nil
}

// FetchCommunications returns the normalized A2A communications of one trace.
func (s *Store) FetchCommunications(ctx context.Context, traceID string) ([]*types.A2ACommunication, error) {
	var rows []CommunicationRow
	err := s.db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch communications for trace %s: %w", traceID, err)
	}

	raws := make([]trace.RawCommunication, 0, len(rows))
	for _, row := range rows {
		raws = append(raws, trace.RawCommunication{
			ID:                row.ID,
			TraceID:           row.TraceID,
			SourceSpanID:      row.SourceSpanID,
			TargetSpanID:      row.TargetSpanID,
			SourceAgentID:     row.SourceAgentID,
			TargetAgentID:     row.TargetAgentID,
			CommunicationType: row.CommunicationType,
			Protocol:          row.Protocol,
			DurationMS:        row.DurationMS,
			Status:            row.Status,
			PayloadJSON:       row.Payload,
		})
	}
	comms, anomalies := trace.NormalizeCommunications(raws)
	s.logAnomalies(traceID, anomalies)
	return comms, nil
}

// ListTraceIDs returns distinct trace ids seen in the span table, newest
// first, bounded by limit.
func (s *Store) ListTraceIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&SpanRow{}).
		Distinct("trace_id").
		Order("trace_id DESC").
		Limit(limit).
		Pluck("trace_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list trace ids: %w", err)
	}
	return ids, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) logAnomalies(traceID string, anomalies []trace.Anomaly) {
	for _, a := range anomalies {
		s.logger.Warn("malformed field recovered",
			zap.String("trace_id", traceID),
			zap.String("span_id", a.SpanID),
			zap.String("field", a.Field))
	}
}
