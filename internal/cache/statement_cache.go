package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/ledger-service/internal/config"
	"github.com/spbu-ds-practicum-2025/ledger-service/internal/domain"
)

const cacheName = "statement"

// HitCounter is notified of every lookup.
type HitCounter interface {
	IncrCacheHit(cache string)
	IncrCacheMiss(cache string)
}

// StatementCache implements domain.StatementCache on Redis. Only statements
// of closed periods are stored, so entries never need invalidation; the TTL
// only bounds memory.
type StatementCache struct {
	client *redis.Client
	ttl    time.Duration
	hits   HitCounter
	logger *zap.Logger
}

var _ domain.StatementCache = (*StatementCache)(nil)

// NewStatementCache connects to Redis and verifies the connection.
func NewStatementCache(cfg config.RedisConfig, hits HitCounter, logger *zap.Logger) (*StatementCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        20,
		MinIdleConns:    2,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return New(client, cfg.StatementTTL, hits, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration, hits HitCounter, logger *zap.Logger) *StatementCache {
	return &StatementCache{client: client, ttl: ttl, hits: hits, logger: logger}
}

// Key formats the cache key of a statement.
func Key(accountID uuid.UUID, period domain.DateRange) string {
	return fmt.Sprintf("statement:v1:%s:%s", accountID, period)
}

type cachedStatement struct {
	AccountID        string `json:"account_id"`
	Currency         string `json:"currency"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	OpeningBalance   string `json:"opening_balance"`
	ClosingBalance   string `json:"closing_balance"`
	TotalDebit       string `json:"total_debit"`
	TotalCredit      string `json:"total_credit"`
	TransactionCount int    `json:"transaction_count"`
}

const dateLayout = "2006-01-02"

func encode(s *domain.Statement) ([]byte, error) {
	return json.Marshal(cachedStatement{
		AccountID:        s.AccountID.String(),
		Currency:         s.Currency,
		StartDate:        s.StartDate.Format(dateLayout),
		EndDate:          s.EndDate.Format(dateLayout),
		OpeningBalance:   s.OpeningBalance.String(),
		ClosingBalance:   s.ClosingBalance.String(),
		TotalDebit:       s.TotalDebit.String(),
		TotalCredit:      s.TotalCredit.String(),
		TransactionCount: s.TransactionCount,
	})
}

func decode(data []byte) (*domain.Statement, error) {
	var c cachedStatement
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	accountID, err := uuid.Parse(c.AccountID)
	if err != nil {
		return nil, err
	}
	period, err := domain.ParseDateRange(c.StartDate, c.EndDate)
	if err != nil {
		return nil, err
	}
	amounts := make([]decimal.Decimal, 4)
	for i, s := range []string{c.OpeningBalance, c.ClosingBalance, c.TotalDebit, c.TotalCredit} {
		if amounts[i], err = decimal.NewFromString(s); err != nil {
			return nil, err
		}
	}
	return &domain.Statement{
		AccountID:        accountID,
		Currency:         c.Currency,
		StartDate:        period.Start,
		EndDate:          period.End,
		OpeningBalance:   amounts[0],
		ClosingBalance:   amounts[1],
		TotalDebit:       amounts[2],
		TotalCredit:      amounts[3],
		TransactionCount: c.TransactionCount,
	}, nil
}

// Get returns the cached statement, or nil on a miss. A corrupt entry is
// deleted and reported as a miss.
func (c *StatementCache) Get(ctx context.Context, accountID uuid.UUID, period domain.DateRange) (*domain.Statement, error) {
	key := Key(accountID, period)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.miss()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	st, err := decode(data)
	if err != nil {
		c.logger.Warn("dropping corrupt statement cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		c.miss()
		return nil, nil
	}
	if c.hits != nil {
		c.hits.IncrCacheHit(cacheName)
	}
	return st, nil
}

// Put stores a statement.
func (c *StatementCache) Put(ctx context.Context, st *domain.Statement) error {
	data, err := encode(st)
	if err != nil {
		return fmt.Errorf("failed to encode statement: %w", err)
	}
	period := domain.DateRange{Start: st.StartDate, End: st.EndDate}
	if err := c.client.Set(ctx, Key(st.AccountID, period), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache statement: %w", err)
	}
	return nil
}

func (c *StatementCache) miss() {
	if c.hits != nil {
		c.hits.IncrCacheMiss(cacheName)
	}
}

// Close closes the Redis client.
func (c *StatementCache) Close() error {
	return c.client.Close()
}
