package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yuchenzhao/emolens/backend/internal/analysis/engagement"
	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already tracked")
	ErrSessionStopped  = errors.New("session already stopped")
)

// Config 控制聚合引擎的可调参数，零值回退到各自的默认值。
type Config struct {
	Window           int           // 参与度评分回看的事件数
	AlertLow         float64       // 低级预警阈值（负向情绪占比）
	AlertHigh        float64       // 高级预警阈值
	Staleness        time.Duration // 参与者静默多久后不再计入活跃
	TimelineLimit    int           // 内存时间线上限，0 表示不截断
	BucketInterval   time.Duration // 报表时间片宽度
	AnomalyThreshold float64       // 置信度异常的 z-score 阈值
}

// withDefaults 填充未配置的字段。阈值 0 是合法的"必告警"配置，
// 只有两个阈值同时为零才视为未配置。
func (c Config) withDefaults() Config {
	if c.AlertLow == 0 && c.AlertHigh == 0 {
		c.AlertLow = engagement.DefaultAlertLow
		c.AlertHigh = engagement.DefaultAlertHigh
	}
	return c
}

// Store persists aggregates and timeline entries so a session survives a
// process restart. All methods are best-effort from the engine's point of
// view: a storage failure never corrupts in-memory state.
type Store interface {
	CreateSession(ctx context.Context, info emotion.SessionInfo) error
	FinishSession(ctx context.Context, sessionID string, endTime time.Time, counts map[emotion.Label]int) error
	AppendEvent(ctx context.Context, seq int64, ev emotion.Event) error
	LoadSession(ctx context.Context, sessionID string) (*emotion.SessionInfo, []emotion.Event, error)
	ListSessions(ctx context.Context) ([]emotion.SessionInfo, error)
}

// Service is the registry of session aggregates. It validates incoming
// observations, routes them into the owning aggregate and fans the
// refreshed snapshot out to push subscribers.
type Service struct {
	mu       sync.RWMutex
	cfg      Config
	store    Store // optional, nil means memory only
	sessions map[string]*Aggregate
	pub      *broadcaster
	now      func() time.Time
}

// NewService bootstraps the session registry. store may be nil.
func NewService(cfg Config, store Store) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		sessions: make(map[string]*Aggregate),
		pub:      newBroadcaster(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins tracking a session. An empty id gets a generated one.
func (s *Service) Start(ctx context.Context, sessionID, name string) (emotion.SessionInfo, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return emotion.SessionInfo{}, ErrSessionExists
	}
	agg := newAggregate(s.cfg, sessionID, name, s.now())
	s.sessions[sessionID] = agg
	s.mu.Unlock()

	info := agg.info()
	if s.store != nil {
		if err := s.store.CreateSession(ctx, info); err != nil {
			log.Printf("[session] persist session start failed id=%s: %v", sessionID, err)
		}
	}
	return info, nil
}

// Ingest validates one raw observation and folds it into the session.
// The returned snapshot reflects state after the event was applied.
func (s *Service) Ingest(ctx context.Context, sessionID string, raw emotion.RawEvent) (emotion.Snapshot, error) {
	agg, err := s.lookup(ctx, sessionID)
	if err != nil {
		return emotion.Snapshot{}, err
	}

	ev, err := emotion.Normalize(sessionID, raw, s.now())
	if err != nil {
		return emotion.Snapshot{}, err
	}

	snapshot, seq, err := agg.apply(ev, s.now())
	if err != nil {
		return emotion.Snapshot{}, err
	}

	if s.store != nil {
		if err := s.store.AppendEvent(ctx, seq, ev); err != nil {
			log.Printf("[session] persist event failed session=%s seq=%d: %v", sessionID, seq, err)
		}
	}

	s.pub.publish(sessionID, snapshot)
	return snapshot, nil
}

// Snapshot returns the live statistics view, valid in either state.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (emotion.Snapshot, error) {
	agg, err := s.lookup(ctx, sessionID)
	if err != nil {
		return emotion.Snapshot{}, err
	}
	return agg.snapshot(s.now()), nil
}

// Report returns the full reporting view including the timeline.
func (s *Service) Report(ctx context.Context, sessionID string) (emotion.Report, error) {
	agg, err := s.lookup(ctx, sessionID)
	if err != nil {
		return emotion.Report{}, err
	}
	return agg.report(s.now()), nil
}

// Stop freezes the session and returns the final report. The aggregate is
// retained so later report queries keep working.
func (s *Service) Stop(ctx context.Context, sessionID string) (emotion.Report, error) {
	agg, err := s.lookup(ctx, sessionID)
	if err != nil {
		return emotion.Report{}, err
	}

	now := s.now()
	if err := agg.stop(now); err != nil {
		return emotion.Report{}, err
	}

	report := agg.report(now)
	if s.store != nil {
		if err := s.store.FinishSession(ctx, sessionID, now, report.Snapshot.EmotionCounts); err != nil {
			log.Printf("[session] persist session stop failed id=%s: %v", sessionID, err)
		}
	}

	s.pub.publish(sessionID, report.Snapshot)
	return report, nil
}

// Reports lists summaries of every known session, merging persisted
// sessions that are not currently in memory.
func (s *Service) Reports(ctx context.Context) ([]emotion.SessionInfo, error) {
	s.mu.RLock()
	infos := make([]emotion.SessionInfo, 0, len(s.sessions))
	seen := make(map[string]bool, len(s.sessions))
	for id, agg := range s.sessions {
		infos = append(infos, agg.info())
		seen[id] = true
	}
	s.mu.RUnlock()

	if s.store != nil {
		stored, err := s.store.ListSessions(ctx)
		if err != nil {
			log.Printf("[session] list persisted sessions failed: %v", err)
		} else {
			for _, info := range stored {
				if !seen[info.SessionID] {
					infos = append(infos, info)
				}
			}
		}
	}
	return infos, nil
}

// Subscribe registers a push listener for one session's snapshots.
// The returned cancel func must be called when the consumer goes away.
func (s *Service) Subscribe(ctx context.Context, sessionID string) (<-chan emotion.Snapshot, func(), error) {
	if _, err := s.lookup(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.pub.subscribe(sessionID)
	return ch, cancel, nil
}

// lookup resolves an aggregate, restoring it from storage when the
// registry lost it to a restart.
func (s *Service) lookup(ctx context.Context, sessionID string) (*Aggregate, error) {
	s.mu.RLock()
	agg, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return agg, nil
	}
	return s.restore(ctx, sessionID)
}

func (s *Service) restore(ctx context.Context, sessionID string) (*Aggregate, error) {
	if s.store == nil {
		return nil, ErrSessionNotFound
	}

	info, events, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		log.Printf("[session] restore failed id=%s: %v", sessionID, err)
		return nil, ErrSessionNotFound
	}
	if info == nil {
		return nil, ErrSessionNotFound
	}

	agg := newAggregate(s.cfg, info.SessionID, info.SessionName, info.StartTime)
	agg.mu.Lock()
	for _, ev := range events {
		agg.applyLocked(ev)
	}
	if info.EndTime != nil {
		agg.stopped = true
		agg.endTime = info.EndTime
	}
	agg.mu.Unlock()

	s.mu.Lock()
	// Another goroutine may have restored concurrently; first one wins.
	if existing, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[sessionID] = agg
	s.mu.Unlock()

	log.Printf("[session] restored session from storage id=%s events=%d", sessionID, len(events))
	return agg, nil
}
