package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Whitelist answers whether an identity may write non-bootstrap events. Entries are
// managed by the external admin service; the relay only reads them.
type Whitelist interface {
	IsWhitelisted(ctx context.Context, pubkey string) (bool, error)
}

// WhitelistEntry is a row of the shared whitelist table.
type WhitelistEntry struct {
	PubKey    string `gorm:"primaryKey"`
	Cohorts   string // JSON array of cohort labels
	AddedAt   time.Time
	AddedBy   string
	ExpiresAt *time.Time `gorm:"index"`
}

func (WhitelistEntry) TableName() string { return "whitelist" }

// GormWhitelist reads the whitelist table of a SQL database.
type GormWhitelist struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormWhitelist(ctx context.Context, db *gorm.DB) (*GormWhitelist, error) {
	if err := db.WithContext(ctx).AutoMigrate(&WhitelistEntry{}); err != nil {
		return nil, fmt.Errorf("migrating whitelist table: %w", err)
	}
	return &GormWhitelist{db: db, now: time.Now}, nil
}

func (w *GormWhitelist) IsWhitelisted(ctx context.Context, pubkey string) (bool, error) {
	var count int64
	err := w.db.WithContext(ctx).Model(&WhitelistEntry{}).
		Where("pub_key = ? AND (expires_at IS NULL OR expires_at > ?)", pubkey, w.now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Add upserts an entry. Whitelist administration lives elsewhere; this exists for
// bootstrapping a fresh database and for tests.
func (w *GormWhitelist) Add(ctx context.Context, entry *WhitelistEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = w.now().UTC()
	}
	if entry.Cohorts == "" {
		entry.Cohorts = "[]"
	}
	return w.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(entry).Error
}

// RedisWhitelist treats the existence of "<prefix><pubkey>" as membership. Expiry is
// delegated to redis key TTLs.
type RedisWhitelist struct {
	Client *redis.Client
	Prefix string
}

func NewRedisWhitelist(redisURL, prefix string) (*RedisWhitelist, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisWhitelist{Client: rdb, Prefix: prefix}, nil
}

func (w *RedisWhitelist) IsWhitelisted(ctx context.Context, pubkey string) (bool, error) {
	n, err := w.Client.Exists(ctx, w.Prefix+pubkey).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Add sets the membership key, with an expiry if ttl is positive.
func (w *RedisWhitelist) Add(ctx context.Context, pubkey string, ttl time.Duration) error {
	return w.Client.Set(ctx, w.Prefix+pubkey, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// StaticWhitelist is a fixed set of identities from configuration.
type StaticWhitelist map[string]bool

func NewStaticWhitelist(pubkeys []string) StaticWhitelist {
	w := make(StaticWhitelist, len(pubkeys))
	for _, pk := range pubkeys {
		pk = strings.ToLower(strings.TrimSpace(pk))
		if pk != "" {
			w[pk] = true
		}
	}
	return w
}

func (w StaticWhitelist) IsWhitelisted(ctx context.Context, pubkey string) (bool, error) {
	return w[pubkey], nil
}

var ErrUnsupportedWhitelist = errors.New("unsupported whitelist URL")

// OpenWhitelist selects a whitelist source: a redis:// URL, an http(s):// check endpoint
// on the admin service, a SQL URL (see SetupDatabase), or, when the URL is empty, the
// static list.
func OpenWhitelist(ctx context.Context, url, redisPrefix string, static []string, opts GormOptions) (Whitelist, error) {
	switch {
	case url == "":
		return NewStaticWhitelist(static), nil
	case strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://"):
		return NewRedisWhitelist(url, redisPrefix)
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		return NewHTTPWhitelist(url)
	case IsSQLURL(url):
		db, err := SetupDatabase(url, opts)
		if err != nil {
			return nil, fmt.Errorf("setting up whitelist database: %w", err)
		}
		return NewGormWhitelist(ctx, db)
	default:
		return nil, ErrUnsupportedWhitelist
	}
}
