package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	slogGorm "github.com/orandin/slog-gorm"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"
)

type GormOptions struct {
	MaxConnections int
	// Tracing enables the gorm opentelemetry plugin.
	Tracing bool
}

// IsSQLURL reports whether SetupDatabase understands the URL.
func IsSQLURL(dburl string) bool {
	for _, prefix := range []string{"sqlite://", "sqlite=", "postgresql://", "postgres://", "postgres="} {
		if strings.HasPrefix(dburl, prefix) {
			return true
		}
	}
	return false
}

// SetupDatabase opens a gorm database from a URL-ish string: "sqlite://<path>",
// "sqlite=<path>", "postgres://...", "postgresql://..." or "postgres=<dsn>".
func SetupDatabase(dburl string, opts GormOptions) (*gorm.DB, error) {
	var dial gorm.Dialector

	isSqlite := false
	openConns := opts.MaxConnections
	if strings.HasPrefix(dburl, "sqlite://") || strings.HasPrefix(dburl, "sqlite=") {
		sqlitePath := strings.TrimPrefix(strings.TrimPrefix(dburl, "sqlite://"), "sqlite=")
		// if this isn't ":memory:", ensure that directory exists
		if !strings.Contains(sqlitePath, ":?") && !strings.HasPrefix(sqlitePath, ":memory:") {
			os.MkdirAll(filepath.Dir(sqlitePath), os.ModePerm)
		}
		dial = sqlite.Open(sqlitePath)
		openConns = 1
		isSqlite = true
	} else if strings.HasPrefix(dburl, "postgresql://") || strings.HasPrefix(dburl, "postgres://") {
		// can pass entire URL, with prefix, to gorm driver
		dial = postgres.Open(dburl)
	} else if strings.HasPrefix(dburl, "postgres=") {
		dial = postgres.Open(dburl[len("postgres="):])
	} else {
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	if openConns > 0 {
		sqldb.SetMaxOpenConns(openConns)
	}
	sqldb.SetMaxIdleConns(80)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}

	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("enabling database tracing: %w", err)
		}
	}

	return db, nil
}

// EventRecord is the row form of a stored event.
type EventRecord struct {
	ID         string `gorm:"primaryKey"`
	PubKey     string `gorm:"index:idx_event_pubkey_kind,priority:1"`
	Kind       int    `gorm:"index:idx_event_pubkey_kind,priority:2;index"`
	DTag       string
	CreatedAt  int64  `gorm:"index;autoCreateTime:false"`
	Tags       string // JSON array of arrays
	Content    string
	Sig        string
	ReceivedAt time.Time
}

func (EventRecord) TableName() string { return "event" }

// EventTag indexes (name, value) pairs of stored events, for tag filters.
type EventTag struct {
	EventID string `gorm:"primaryKey"`
	Name    string `gorm:"primaryKey;index:idx_event_tag_name_value,priority:1"`
	Value   string `gorm:"primaryKey;index:idx_event_tag_name_value,priority:2"`
}

func (EventTag) TableName() string { return "event_tag" }

// ReplaceableSlot points at the current event for a replaceable key. Writers lock the
// slot row while pruning and inserting.
type ReplaceableSlot struct {
	PubKey    string `gorm:"primaryKey"`
	Kind      int    `gorm:"primaryKey;autoIncrement:false"`
	DTag      string `gorm:"primaryKey"`
	EventID   string
	CreatedAt int64 `gorm:"autoCreateTime:false"`
}

func (ReplaceableSlot) TableName() string { return "replaceable_slot" }

// GormStore is a SQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the event tables and returns a store over them.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&EventRecord{}, &EventTag{}, &ReplaceableSlot{}); err != nil {
		return nil, fmt.Errorf("migrating event tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func recordFromEvent(evt *nostr.Event, treatment nostr.Treatment) (*EventRecord, []EventTag, error) {
	tags := evt.Tags
	if tags == nil {
		tags = nostr.Tags{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, err
	}
	rec := &EventRecord{
		ID:         evt.ID,
		PubKey:     evt.PubKey,
		Kind:       evt.Kind,
		CreatedAt:  evt.CreatedAt,
		Tags:       string(tagJSON),
		Content:    evt.Content,
		Sig:        evt.Sig,
		ReceivedAt: time.Now().UTC(),
	}
	if treatment == nostr.ParameterizedReplaceable {
		rec.DTag = evt.Tags.DTag()
	}

	var rows []EventTag
	seen := make(map[[2]string]bool)
	for _, t := range evt.Tags {
		if len(t) < 2 {
			continue
		}
		k := [2]string{t[0], t[1]}
		if seen[k] {
			continue
		}
		seen[k] = true
		rows = append(rows, EventTag{EventID: evt.ID, Name: t[0], Value: t[1]})
	}
	return rec, rows, nil
}

func (rec *EventRecord) toEvent() (*nostr.Event, error) {
	evt := &nostr.Event{
		ID:        rec.ID,
		PubKey:    rec.PubKey,
		CreatedAt: rec.CreatedAt,
		Kind:      rec.Kind,
		Content:   rec.Content,
		Sig:       rec.Sig,
	}
	if err := json.Unmarshal([]byte(rec.Tags), &evt.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of stored event %s: %w", rec.ID, err)
	}
	return evt, nil
}

func (s *GormStore) Put(ctx context.Context, evt *nostr.Event, treatment nostr.Treatment) error {
	ctx, span := tracer.Start(ctx, "GormStore.Put")
	defer span.End()
	span.SetAttributes(attribute.Int("kind", evt.Kind), attribute.String("treatment", treatment.String()))

	rec, tagRows, err := recordFromEvent(evt, treatment)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if treatment == nostr.Replaceable || treatment == nostr.ParameterizedReplaceable {
			if err := s.claimSlot(tx, evt, treatment); err != nil {
				return err
			}
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		if len(tagRows) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(tagRows, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// claimSlot points the replaceable slot at evt, deleting the event it previously pointed
// at. Must be called inside a transaction. The slot row is inserted first, so that
// concurrent writers for a new key conflict on it and then queue on its row lock.
func (s *GormStore) claimSlot(tx *gorm.DB, evt *nostr.Event, treatment nostr.Treatment) error {
	key := keyFor(evt, treatment)

	var existing int64
	if err := tx.Model(&EventRecord{}).Where("id = ?", evt.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrDuplicate
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ReplaceableSlot{
		PubKey:    key.PubKey,
		Kind:      key.Kind,
		DTag:      key.DTag,
		EventID:   evt.ID,
		CreatedAt: evt.CreatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var slot ReplaceableSlot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pub_key = ? AND kind = ? AND d_tag = ?", key.PubKey, key.Kind, key.DTag).
		Take(&slot).Error
	if err != nil {
		return err
	}

	cur := &nostr.Event{ID: slot.EventID, CreatedAt: slot.CreatedAt}
	if !supersedes(evt, cur) {
		return ErrSuperseded
	}

	if err := tx.Where("event_id = ?", slot.EventID).Delete(&EventTag{}).Error; err != nil {
		return err
	}
	if err := tx.Where("id = ?", slot.EventID).Delete(&EventRecord{}).Error; err != nil {
		return err
	}
	return tx.Model(&ReplaceableSlot{}).
		Where("pub_key = ? AND kind = ? AND d_tag = ?", key.PubKey, key.Kind, key.DTag).
		Updates(map[string]any{"event_id": evt.ID, "created_at": evt.CreatedAt}).Error
}

func (s *GormStore) Query(ctx context.Context, filters nostr.Filters, limit int) ([]*nostr.Event, error) {
	ctx, span := tracer.Start(ctx, "GormStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("filters", len(filters)), attribute.Int("limit", limit))

	var candidates []*nostr.Event
	for i := range filters {
		f := &filters[i]
		q, ok := s.filterQuery(ctx, f)
		if !ok {
			continue
		}

		n := filterLimit(f, limit)
		if n > 0 {
			q = q.Limit(n)
		}

		var recs []EventRecord
		if err := q.Order("created_at DESC, id ASC").Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("querying events: %w", err)
		}
		for i := range recs {
			evt, err := recs[i].toEvent()
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, evt)
		}
	}
	return collect(candidates, filters, limit), nil
}

// filterQuery translates a filter into SQL conditions. It returns false when the filter
// can not match anything.
func (s *GormStore) filterQuery(ctx context.Context, f *nostr.Filter) (*gorm.DB, bool) {
	q := s.db.WithContext(ctx).Model(&EventRecord{})
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return nil, false
		}
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Authors != nil {
		if len(f.Authors) == 0 {
			return nil, false
		}
		q = q.Where("pub_key IN ?", f.Authors)
	}
	if f.Kinds != nil {
		if len(f.Kinds) == 0 {
			return nil, false
		}
		q = q.Where("kind IN ?", f.Kinds)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at <= ?", *f.Until)
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			return nil, false
		}
		sub := s.db.Model(&EventTag{}).Select("event_id").Where("name = ? AND value IN ?", name, values)
		q = q.Where("id IN (?)", sub)
	}
	return q, true
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqldb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}
