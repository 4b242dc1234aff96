// Package store keeps an optional audit trail of relay sessions: who
// connected, over which transport, and when they left. It records no
// gameplay.
package store

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
)

type SessionRecord struct {
	ID             uint      `gorm:"primaryKey"`
	PlayerID       string    `gorm:"size:64;index"`
	Name           string    `gorm:"size:64"`
	Transport      string    `gorm:"size:8"`
	RemoteAddr     string    `gorm:"size:128"`
	ConnectedAt    time.Time `gorm:"index"`
	DisconnectedAt *time.Time
	Reason         string `gorm:"size:64"`
}

// Recorder is a hub.Observer that can be flushed and closed on shutdown.
type Recorder interface {
	hub.Observer
	Close() error
}

// New returns a Postgres recorder for dsn, or a no-op one when dsn is empty.
func New(ctx context.Context, dsn string, log *zap.Logger) (Recorder, error) {
	if dsn == "" {
		return Nop{}, nil
	}
	return OpenPostgres(ctx, dsn, log)
}

type Nop struct{}

func (Nop) PlayerConnected(hub.PlayerView)            {}
func (Nop) PlayerDisconnected(hub.PlayerView, string) {}
func (Nop) Close() error                              { return nil }

type event struct {
	view   hub.PlayerView
	closed bool
	reason string
	at     time.Time
}

// Postgres writes session rows from a single worker goroutine so the hub
// never waits on the database. Events beyond the buffer are dropped.
type Postgres struct {
	db      *gorm.DB
	log     *zap.Logger
	events  chan event
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
}

func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&SessionRecord{}); err != nil {
		return nil, multierr.Append(err, closeDB(db))
	}
	p := &Postgres{
		db:     db,
		log:    log.Named("store"),
		events: make(chan event, 1024),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

func (p *Postgres) PlayerConnected(v hub.PlayerView) {
	p.enqueue(event{view: v, at: v.LastSeen})
}

func (p *Postgres) PlayerDisconnected(v hub.PlayerView, reason string) {
	p.enqueue(event{view: v, closed: true, reason: reason, at: v.LastSeen})
}

func (p *Postgres) enqueue(ev event) {
	if p.closed.Load() {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *Postgres) loop() {
	defer close(p.done)
	for ev := range p.events {
		if err := p.write(ev); err != nil {
			p.log.Warn("session audit write failed", zap.String("player_id", ev.view.ID), zap.Error(err))
		}
	}
}

func (p *Postgres) write(ev event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db := p.db.WithContext(ctx)

	if !ev.closed {
		return db.Create(&SessionRecord{
			PlayerID:    ev.view.ID,
			Name:        ev.view.Name,
			Transport:   ev.view.Transport,
			RemoteAddr:  ev.view.Remote,
			ConnectedAt: ev.at,
		}).Error
	}
	return db.Model(&SessionRecord{}).
		Where("player_id = ? AND disconnected_at IS NULL", ev.view.ID).
		Updates(map[string]any{
			"name":            ev.view.Name,
			"disconnected_at": ev.at,
			"reason":          ev.reason,
		}).Error
}

// Sessions returns the newest rows first.
func (p *Postgres) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	var out []SessionRecord
	err := p.db.WithContext(ctx).Order("connected_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Close flushes queued events and closes the pool. The hub must be stopped
// first.
func (p *Postgres) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.events)
	<-p.done
	if n := p.dropped.Load(); n > 0 {
		p.log.Warn("session audit events dropped", zap.Int64("count", n))
	}
	return closeDB(p.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
