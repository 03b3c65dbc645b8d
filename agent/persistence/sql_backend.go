package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLOptions configures SQLBackend.
type SQLOptions struct {
	TableName        string
	MaxItemsPerAgent int
	Transact         TxRunner
	Now              func() time.Time
}

// memoryRow 是记忆条目的表结构
type memoryRow struct {
	ID           string     `gorm:"primaryKey;size:64"`
	AgentID      string     `gorm:"size:128;not null;index:idx_memory_agent_created,priority:1"`
	Content      string     `gorm:"type:text"`
	Entities     string     `gorm:"type:text"` // |alice|bob|
	Metadata     string     `gorm:"type:text"`
	Embedding    string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"index:idx_memory_agent_created,priority:2"`
	ExpiresAt    *time.Time `gorm:"index"`
	LastAccessed time.Time
	AccessCount  int
}

// SQLBackend is a gorm-based implementation of memory.Backend.
type SQLBackend struct {
	db       *gorm.DB
	table    string
	maxItems int
	transact TxRunner
	now      func() time.Time
	logger   *zap.Logger
}

// NewSQLBackend migrates the memory table and returns the backend.
func NewSQLBackend(db *gorm.DB, opts SQLOptions, logger *zap.Logger) (*SQLBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := opts.TableName
	if table == "" {
		table = "crew_memories"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	transact := opts.Transact
	if transact == nil {
		transact = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		}
	}
	if err := db.Table(table).AutoMigrate(&memoryRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	return &SQLBackend{
		db:       db,
		table:    table,
		maxItems: opts.MaxItemsPerAgent,
		transact: transact,
		now:      func() time.Time { return now().UTC() },
		logger:   logger.With(zap.String("component", "memory_backend_sql"), zap.String("table", table)),
	}, nil
}

func (b *SQLBackend) tx(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx).Table(b.table)
}

// Put implements memory.Backend. Insert, expiry purge and eviction commit as
// one transaction.
func (b *SQLBackend) Put(ctx context.Context, agentID string, snippet memory.Snippet) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}
	now := b.now()
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}
	if snippet.CreatedAt.IsZero() {
		snippet.CreatedAt = now
	}
	snippet.AgentID = agentID

	row, err := toRow(snippet)
	if err != nil {
		return err
	}
	return b.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Table(b.table).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert snippet: %w", err)
		}
		if err := tx.Table(b.table).
			Where("agent_id = ? AND expires_at IS NOT NULL AND expires_at <= ?", agentID, now).
			Delete(&memoryRow{}).Error; err != nil {
			return fmt.Errorf("failed to purge expired snippets: %w", err)
		}
		return b.evict(tx, agentID)
	})
}

func (b *SQLBackend) evict(tx *gorm.DB, agentID string) error {
	if b.maxItems <= 0 {
		return nil
	}
	var n int64
	if err := tx.Table(b.table).Where("agent_id = ?", agentID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to count snippets: %w", err)
	}
	over := int(n) - b.maxItems
	if over <= 0 {
		return nil
	}
	var victims []string
	if err := tx.Table(b.table).
		Where("agent_id = ?", agentID).
		Order("last_accessed ASC").Order("created_at ASC").
		Limit(over).
		Pluck("id", &victims).Error; err != nil {
		return fmt.Errorf("failed to select eviction victims: %w", err)
	}
	if err := tx.Table(b.table).Where("id IN ?", victims).Delete(&memoryRow{}).Error; err != nil {
		return fmt.Errorf("failed to evict snippets: %w", err)
	}
	b.logger.Debug("evicted snippets", zap.String("agent_id", agentID), zap.Int("count", len(victims)))
	return nil
}

// Get implements memory.Backend. Results are most-recent-first.
func (b *SQLBackend) Get(ctx context.Context, agentID string, query memory.Query) ([]memory.Snippet, error) {
	now := b.now()
	q := b.tx(ctx).
		Where("agent_id = ?", agentID).
		Where("expires_at IS NULL OR expires_at > ?", now)

	if len(query.Entities) > 0 {
		var group *gorm.DB
		for _, e := range query.Entities {
			pattern := "%|" + normalizeEntity(e) + "|%"
			if group == nil {
				group = b.db.Where("entities LIKE ?", pattern)
			} else {
				group = group.Or("entities LIKE ?", pattern)
			}
		}
		q = q.Where(group)
	}
	if len(query.IDs) > 0 {
		q = q.Where("id IN ?", query.IDs)
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query snippets: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	if err := b.tx(ctx).Where("id IN ?", ids).Updates(map[string]any{
		"last_accessed": now,
		"access_count":  gorm.Expr("access_count + 1"),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to record access: %w", err)
	}

	out := make([]memory.Snippet, 0, len(rows))
	for _, row := range rows {
		row.LastAccessed = now
		row.AccessCount++
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Len returns the number of stored snippets for an agent.
func (b *SQLBackend) Len(ctx context.Context, agentID string) (int64, error) {
	var n int64
	err := b.tx(ctx).Where("agent_id = ?", agentID).Count(&n).Error
	return n, err
}

func toRow(s memory.Snippet) (memoryRow, error) {
	row := memoryRow{
		ID:           s.ID,
		AgentID:      s.AgentID,
		Content:      s.Content,
		CreatedAt:    s.CreatedAt.UTC(),
		LastAccessed: s.CreatedAt.UTC(),
	}
	if len(s.Entities) > 0 {
		var sb strings.Builder
		sb.WriteString("|")
		for _, e := range s.Entities {
			if n := normalizeEntity(e); n != "" {
				sb.WriteString(n)
				sb.WriteString("|")
			}
		}
		row.Entities = sb.String()
	}
	if len(s.Metadata) > 0 {
		data, err := json.Marshal(s.Metadata)
		if err != nil {
			return row, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		row.Metadata = string(data)
	}
	if len(s.Embedding) > 0 {
		data, err := json.Marshal(s.Embedding)
		if err != nil {
			return row, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		row.Embedding = string(data)
	}
	if !s.ExpiresAt.IsZero() {
		t := s.ExpiresAt.UTC()
		row.ExpiresAt = &t
	}
	return row, nil
}

func fromRow(row memoryRow) memory.Snippet {
	s := memory.Snippet{
		ID:           row.ID,
		AgentID:      row.AgentID,
		Content:      row.Content,
		CreatedAt:    row.CreatedAt,
		LastAccessed: row.LastAccessed,
		AccessCount:  row.AccessCount,
	}
	for _, e := range strings.Split(strings.Trim(row.Entities, "|"), "|") {
		if e != "" {
			s.Entities = append(s.Entities, e)
		}
	}
	if row.Metadata != "" {
		_ = json.Unmarshal([]byte(row.Metadata), &s.Metadata)
	}
	if row.Embedding != "" {
		_ = json.Unmarshal([]byte(row.Embedding), &s.Embedding)
	}
	if row.ExpiresAt != nil {
		s.ExpiresAt = *row.ExpiresAt
	}
	return s
}
