package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Common errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrStoreClosed  = errors.New("store is closed")
)

// Type represents the type of storage backend
type Type string

const (
	TypeMemory Type = "inmemory"
	TypeRedis  Type = "redis"
	TypeSQL    Type = "sql"
)

// Config selects and tunes a memory backend.
type Config struct {
	Type Type `json:"type" yaml:"type"`

	// MaxItemsPerAgent 每个智能体的条目上限，0 表示不限制
	MaxItemsPerAgent int `json:"max_items_per_agent" yaml:"max_items_per_agent"`

	// KeyPrefix Redis 键前缀 (default: "crewflow:")
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TableName SQL 表名 (default: "crew_memories")
	TableName string `json:"table_name" yaml:"table_name"`
}

// TxRunner runs fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// Deps carries the connections a backend may need.
type Deps struct {
	Redis redis.UniversalClient
	DB    *gorm.DB
	// Transact 为空时 SQL 后端直接使用 DB.Transaction
	Transact TxRunner
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewBackend creates the memory backend described by cfg.
func NewBackend(cfg Config, deps Deps) (memory.Backend, error) {
	switch Type(strings.ToLower(string(cfg.Type))) {
	case TypeMemory, "":
		return memory.NewInMemoryBackend(memory.InMemoryBackendConfig{
			MaxItemsPerAgent: cfg.MaxItemsPerAgent,
			Now:              deps.Now,
		}, deps.Logger), nil
	case TypeRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("%w: redis backend requires a client", ErrInvalidInput)
		}
		return NewRedisBackend(deps.Redis, RedisOptions{
			KeyPrefix:        cfg.KeyPrefix,
			MaxItemsPerAgent: cfg.MaxItemsPerAgent,
			Now:              deps.Now,
		}, deps.Logger), nil
	case TypeSQL:
		if deps.DB == nil {
			return nil, fmt.Errorf("%w: sql backend requires a database", ErrInvalidInput)
		}
		return NewSQLBackend(deps.DB, SQLOptions{
			TableName:        cfg.TableName,
			MaxItemsPerAgent: cfg.MaxItemsPerAgent,
			Transact:         deps.Transact,
			Now:              deps.Now,
		}, deps.Logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidInput, cfg.Type)
	}
}

func normalizeEntity(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
