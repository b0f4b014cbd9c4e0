package session_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
	session "github.com/yuchenzhao/emolens/backend/internal/service/session"
)

// memStore 是测试用的内存持久层实现。
type memStore struct {
	mu         sync.Mutex
	sessions   map[string]emotion.SessionInfo
	events     map[string][]emotion.Event
	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]emotion.SessionInfo),
		events:   make(map[string][]emotion.Event),
	}
}

func (m *memStore) CreateSession(_ context.Context, info emotion.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[info.SessionID] = info
	return nil
}

func (m *memStore) FinishSession(_ context.Context, sessionID string, endTime time.Time, counts map[emotion.Label]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return errors.New("unknown session")
	}
	info.EndTime = &endTime
	info.EmotionCounts = counts
	m.sessions[sessionID] = info
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, _ int64, ev emotion.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errors.New("storage down")
	}
	m.events[ev.SessionID] = append(m.events[ev.SessionID], ev)
	return nil
}

func (m *memStore) LoadSession(_ context.Context, sessionID string) (*emotion.SessionInfo, []emotion.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return &info, m.events[sessionID], nil
}

func (m *memStore) ListSessions(_ context.Context) ([]emotion.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]emotion.SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		infos = append(infos, info)
	}
	return infos, nil
}

func rawAt(participant, label string, confidence float64, ts time.Time) emotion.RawEvent {
	return emotion.RawEvent{
		ParticipantID: participant,
		Emotion:       label,
		Confidence:    confidence,
		Timestamp:     ts.UnixMilli(),
	}
}

func TestStartAndInitialSnapshot(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()

	info, err := svc.Start(ctx, "s1", "standup")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if info.SessionID != "s1" || info.SessionName != "standup" {
		t.Fatalf("unexpected info: %+v", info)
	}

	snapshot, err := svc.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot err: %v", err)
	}
	if !snapshot.Active {
		t.Fatal("fresh session must be active")
	}
	if snapshot.TotalDetections != 0 || snapshot.ParticipantCount != 0 {
		t.Fatalf("fresh session must be empty: %+v", snapshot)
	}
	if snapshot.EngagementScore != 50 {
		t.Fatalf("empty session must score baseline 50, got %f", snapshot.EngagementScore)
	}
	if snapshot.Alert != nil {
		t.Fatalf("fresh session must not alert: %+v", snapshot.Alert)
	}
	if len(snapshot.EmotionCounts) != len(emotion.Labels()) {
		t.Fatalf("all labels must be present with zero counts: %+v", snapshot.EmotionCounts)
	}
}

func TestStartGeneratesID(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	info, err := svc.Start(context.Background(), "", "ad-hoc")
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if info.SessionID == "" {
		t.Fatal("expected generated session id")
	}
}

func TestStartDuplicate(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := svc.Start(ctx, "s1", ""); !errors.Is(err, session.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestIngestAggregatesScenario(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := svc.Start(ctx, "s1", "retro"); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	for i, raw := range []emotion.RawEvent{
		rawAt("p1", "happy", 90, base),
		rawAt("p2", "sad", 80, base.Add(time.Second)),
		rawAt("p1", "happy", 85, base.Add(2*time.Second)),
	} {
		if _, err := svc.Ingest(ctx, "s1", raw); err != nil {
			t.Fatalf("Ingest %d err: %v", i, err)
		}
	}

	snapshot, err := svc.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot err: %v", err)
	}
	if snapshot.TotalDetections != 3 {
		t.Fatalf("expected 3 detections, got %d", snapshot.TotalDetections)
	}
	if snapshot.ParticipantCount != 2 {
		t.Fatalf("expected 2 participants, got %d", snapshot.ParticipantCount)
	}
	if snapshot.EmotionCounts[emotion.Happy] != 2 || snapshot.EmotionCounts[emotion.Sad] != 1 {
		t.Fatalf("unexpected counts: %+v", snapshot.EmotionCounts)
	}
	if snapshot.EmotionPercentages[emotion.Happy] != 66.67 {
		t.Fatalf("expected happy 66.67%%, got %f", snapshot.EmotionPercentages[emotion.Happy])
	}
	if snapshot.EmotionPercentages[emotion.Sad] != 33.33 {
		t.Fatalf("expected sad 33.33%%, got %f", snapshot.EmotionPercentages[emotion.Sad])
	}

	wantScore := 50 + 1.0/3.0*50
	if math.Abs(snapshot.EngagementScore-wantScore) > 1e-9 {
		t.Fatalf("expected score %f, got %f", wantScore, snapshot.EngagementScore)
	}
	if snapshot.AverageConfidence != 85 {
		t.Fatalf("expected average confidence 85, got %f", snapshot.AverageConfidence)
	}
	if snapshot.Alert != nil {
		t.Fatalf("33%% negative must not alert: %+v", snapshot.Alert)
	}
}

func TestIngestUnknownSession(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	_, err := svc.Ingest(context.Background(), "missing", rawAt("p1", "happy", 90, time.Now()))
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestInvalidPayload(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	_, err := svc.Ingest(ctx, "s1", rawAt("p1", "bored", 90, time.Now()))
	var verr *emotion.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	snapshot, _ := svc.Snapshot(ctx, "s1")
	if snapshot.TotalDetections != 0 {
		t.Fatal("rejected event must not change aggregates")
	}
}

func TestIngestOutOfOrderKeepsTrackerFresh(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, base.Add(time.Second))); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	// A delayed classification result from before the happy one.
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "angry", 70, base)); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}

	report, err := svc.Report(ctx, "s1")
	if err != nil {
		t.Fatalf("Report err: %v", err)
	}
	if len(report.Participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(report.Participants))
	}
	if report.Participants[0].LastEmotion != emotion.Happy {
		t.Fatalf("stale event rewound tracker to %s", report.Participants[0].LastEmotion)
	}
	// The late event still counts toward the cumulative statistics.
	if report.Snapshot.TotalDetections != 2 || report.Snapshot.EmotionCounts[emotion.Angry] != 1 {
		t.Fatalf("late event dropped from aggregates: %+v", report.Snapshot)
	}
	if len(report.Timeline) != 2 {
		t.Fatalf("timeline must keep insertion order with both events, got %d", len(report.Timeline))
	}
}

func TestAlertTransitionsAreNotSticky(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	base := time.Now().UTC()
	seq := 0

	ingest := func(label string) emotion.Snapshot {
		seq++
		snapshot, err := svc.Ingest(ctx, "s1", rawAt("p1", label, 80, base.Add(time.Duration(seq)*time.Second)))
		if err != nil {
			t.Fatalf("Ingest %s err: %v", label, err)
		}
		return snapshot
	}

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	ingest("happy")
	ingest("happy")
	if snapshot := ingest("sad"); snapshot.Alert != nil { // 33.33%
		t.Fatalf("below threshold must not alert: %+v", snapshot.Alert)
	}
	if snapshot := ingest("sad"); snapshot.Alert == nil || snapshot.Alert.Level != "low" { // 50%
		t.Fatalf("expected low alert at 50%% negative, got %+v", snapshot.Alert)
	}
	ingest("happy")
	if snapshot := ingest("happy"); snapshot.Alert != nil { // back to 33.33%
		t.Fatalf("alert must clear when the ratio recovers: %+v", snapshot.Alert)
	}
	ingest("sad")
	ingest("sad")
	ingest("sad")
	if snapshot := ingest("sad"); snapshot.Alert == nil || snapshot.Alert.Level != "high" { // 60%
		t.Fatalf("expected high alert at 60%% negative, got %+v", snapshot.Alert)
	}
}

func TestZeroAlertThresholdIsRespected(t *testing.T) {
	svc := session.NewService(session.Config{AlertLow: 0, AlertHigh: 60}, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, base)); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	snapshot, err := svc.Ingest(ctx, "s1", rawAt("p1", "sad", 80, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	if snapshot.Alert == nil || snapshot.Alert.Level != "low" {
		t.Fatalf("explicit zero low threshold must alert below 35%%, got %+v", snapshot.Alert)
	}
}

func TestStopFreezesSession(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, base)); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}

	report, err := svc.Stop(ctx, "s1")
	if err != nil {
		t.Fatalf("Stop err: %v", err)
	}
	if report.EndTime == nil {
		t.Fatal("stopped session must carry an end time")
	}
	if report.Snapshot.Active {
		t.Fatal("stopped session must not be active")
	}

	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "sad", 80, base.Add(time.Second))); !errors.Is(err, session.ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped, got %v", err)
	}
	if _, err := svc.Stop(ctx, "s1"); !errors.Is(err, session.ErrSessionStopped) {
		t.Fatalf("double stop must fail, got %v", err)
	}

	// Reads keep working against frozen state.
	snapshot, err := svc.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot err: %v", err)
	}
	if snapshot.TotalDetections != 1 {
		t.Fatalf("frozen counts changed: %d", snapshot.TotalDetections)
	}
}

func TestTimelineLimitKeepsCountersMonotonic(t *testing.T) {
	svc := session.NewService(session.Config{TimelineLimit: 3}, nil)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 80, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Ingest %d err: %v", i, err)
		}
	}

	report, err := svc.Report(ctx, "s1")
	if err != nil {
		t.Fatalf("Report err: %v", err)
	}
	if len(report.Timeline) != 3 {
		t.Fatalf("timeline must be capped at 3, got %d", len(report.Timeline))
	}
	if report.Snapshot.TotalDetections != 5 {
		t.Fatalf("cumulative count must survive trimming, got %d", report.Snapshot.TotalDetections)
	}
	if !report.Timeline[0].Timestamp.Equal(base.Add(2 * time.Second).UTC()) {
		t.Fatalf("oldest entries must be evicted first, got %v", report.Timeline[0].Timestamp)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	updates, cancel, err := svc.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer cancel()

	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, time.Now())); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}

	select {
	case snapshot := <-updates:
		if snapshot.TotalDetections != 1 {
			t.Fatalf("unexpected pushed snapshot: %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot pushed to subscriber")
	}
}

func TestSubscribeUnknownSession(t *testing.T) {
	svc := session.NewService(session.Config{}, nil)
	if _, _, err := svc.Subscribe(context.Background(), "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStoreFailureDoesNotBreakIngest(t *testing.T) {
	store := newMemStore()
	store.failAppend = true
	svc := session.NewService(session.Config{}, store)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	snapshot, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, time.Now()))
	if err != nil {
		t.Fatalf("Ingest must tolerate storage failure: %v", err)
	}
	if snapshot.TotalDetections != 1 {
		t.Fatalf("in-memory state must still advance, got %d", snapshot.TotalDetections)
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Simulate a previous process writing a session.
	seed := session.NewService(session.Config{}, store)
	if _, err := seed.Start(ctx, "s1", "recovered"); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := seed.Ingest(ctx, "s1", rawAt("p1", "happy", 90, base)); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}
	if _, err := seed.Ingest(ctx, "s1", rawAt("p2", "sad", 80, base.Add(time.Second))); err != nil {
		t.Fatalf("Ingest err: %v", err)
	}

	// A fresh registry knows nothing in memory but finds the store.
	svc := session.NewService(session.Config{}, store)
	snapshot, err := svc.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot after restore err: %v", err)
	}
	if snapshot.TotalDetections != 2 {
		t.Fatalf("expected 2 restored detections, got %d", snapshot.TotalDetections)
	}
	if snapshot.ParticipantCount != 2 {
		t.Fatalf("expected 2 restored participants, got %d", snapshot.ParticipantCount)
	}
	if snapshot.SessionName != "recovered" {
		t.Fatalf("expected restored name, got %q", snapshot.SessionName)
	}

	// Restored live sessions accept new events.
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "neutral", 70, base.Add(2*time.Second))); err != nil {
		t.Fatalf("Ingest after restore err: %v", err)
	}
}

func TestRestoreStoppedSessionStaysStopped(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	seed := session.NewService(session.Config{}, store)
	if _, err := seed.Start(ctx, "s1", ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := seed.Stop(ctx, "s1"); err != nil {
		t.Fatalf("Stop err: %v", err)
	}

	svc := session.NewService(session.Config{}, store)
	if _, err := svc.Ingest(ctx, "s1", rawAt("p1", "happy", 90, time.Now())); !errors.Is(err, session.ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped after restore, got %v", err)
	}
}

func TestReportsMergeStoreOnlySessions(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	seed := session.NewService(session.Config{}, store)
	if _, err := seed.Start(ctx, "old", "archived"); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	svc := session.NewService(session.Config{}, store)
	if _, err := svc.Start(ctx, "live", "current"); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	infos, err := svc.Reports(ctx)
	if err != nil {
		t.Fatalf("Reports err: %v", err)
	}
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.SessionID] = true
	}
	if !seen["live"] || !seen["old"] {
		t.Fatalf("expected both live and persisted sessions, got %+v", infos)
	}
}
