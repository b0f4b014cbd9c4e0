package session

import (
	"sort"
	"sync"
	"time"

	"github.com/yuchenzhao/emolens/backend/internal/analysis/engagement"
	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// Aggregate owns the full mutable state for one tracked session: the
// participant map, cumulative counts and the append-only timeline. All
// mutation goes through apply under the aggregate's own mutex, so ingest
// for one session is serialized while sessions stay fully independent.
type Aggregate struct {
	mu  sync.Mutex
	cfg Config

	id        string
	name      string
	startTime time.Time
	endTime   *time.Time
	stopped   bool

	participants  map[string]*emotion.ParticipantState
	counts        map[emotion.Label]int
	timeline      []emotion.Event
	totalAccepted int
	confidenceSum float64
	seq           int64
}

func newAggregate(cfg Config, id, name string, start time.Time) *Aggregate {
	counts := make(map[emotion.Label]int, 7)
	for _, label := range emotion.Labels() {
		counts[label] = 0
	}
	return &Aggregate{
		cfg:          cfg,
		id:           id,
		name:         name,
		startTime:    start,
		participants: make(map[string]*emotion.ParticipantState),
		counts:       counts,
	}
}

// apply folds one validated event into the aggregate and returns the
// refreshed snapshot together with the event's timeline sequence number.
func (a *Aggregate) apply(ev emotion.Event, now time.Time) (emotion.Snapshot, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return emotion.Snapshot{}, 0, ErrSessionStopped
	}

	a.applyLocked(ev)
	return a.snapshotLocked(now), a.seq, nil
}

// applyLocked 按 4.1-4.6 的顺序执行跟踪、计数与时间线追加。
func (a *Aggregate) applyLocked(ev emotion.Event) {
	state, ok := a.participants[ev.ParticipantID]
	if !ok {
		state = &emotion.ParticipantState{ParticipantID: ev.ParticipantID}
		a.participants[ev.ParticipantID] = state
	}
	state.Observe(ev)

	a.counts[ev.Emotion]++
	a.totalAccepted++
	a.confidenceSum += ev.Confidence
	a.seq++

	// 环形截断只作用于内存时间线，累计计数与序号保持单调。
	if limit := a.cfg.TimelineLimit; limit > 0 && len(a.timeline) >= limit {
		copy(a.timeline, a.timeline[1:])
		a.timeline = a.timeline[:limit-1]
	}
	a.timeline = append(a.timeline, ev)
}

func (a *Aggregate) snapshot(now time.Time) emotion.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(now)
}

func (a *Aggregate) snapshotLocked(now time.Time) emotion.Snapshot {
	percentages := engagement.Percentages(a.counts, a.totalAccepted)
	score := engagement.Score(a.timeline, a.cfg.Window)
	level, recommendation := engagement.AttentionLevel(score)

	avgConfidence := 0.0
	if a.totalAccepted > 0 {
		avgConfidence = a.confidenceSum / float64(a.totalAccepted)
	}

	active := 0
	for _, p := range a.participants {
		if !p.StaleAt(now, a.cfg.Staleness) {
			active++
		}
	}

	counts := make(map[emotion.Label]int, len(a.counts))
	for label, count := range a.counts {
		counts[label] = count
	}

	return emotion.Snapshot{
		SessionID:          a.id,
		SessionName:        a.name,
		Active:             !a.stopped,
		TotalDetections:    a.totalAccepted,
		ParticipantCount:   len(a.participants),
		ActiveParticipants: active,
		EmotionCounts:      counts,
		EmotionPercentages: percentages,
		Sentiment:          engagement.SentimentSplit(a.counts, a.totalAccepted),
		AverageConfidence:  avgConfidence,
		EngagementScore:    score,
		AttentionLevel:     level,
		Recommendation:     recommendation,
		Alert:              engagement.EvaluateAlert(percentages, a.cfg.AlertLow, a.cfg.AlertHigh),
		Timestamp:          now,
	}
}

func (a *Aggregate) report(now time.Time) emotion.Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	timeline := make([]emotion.Event, len(a.timeline))
	copy(timeline, a.timeline)

	participants := make([]emotion.ParticipantState, 0, len(a.participants))
	for _, p := range a.participants {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ParticipantID < participants[j].ParticipantID
	})

	return emotion.Report{
		Snapshot:     a.snapshotLocked(now),
		StartTime:    a.startTime,
		EndTime:      a.endTime,
		Participants: participants,
		Timeline:     timeline,
		Buckets:      engagement.Buckets(timeline, a.cfg.BucketInterval),
		Anomalies:    engagement.Anomalies(timeline, a.cfg.AnomalyThreshold),
	}
}

// stop freezes the aggregate. Already-ingested state is retained for the
// post-session report; only future mutation is prevented.
func (a *Aggregate) stop(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrSessionStopped
	}
	a.stopped = true
	end := now
	a.endTime = &end
	return nil
}

func (a *Aggregate) info() emotion.SessionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[emotion.Label]int, len(a.counts))
	for label, count := range a.counts {
		counts[label] = count
	}
	return emotion.SessionInfo{
		SessionID:       a.id,
		SessionName:     a.name,
		StartTime:       a.startTime,
		EndTime:         a.endTime,
		TotalDetections: a.totalAccepted,
		EmotionCounts:   counts,
	}
}
