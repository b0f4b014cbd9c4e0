package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// Store implements the session service's persistence boundary: one row per
// session aggregate plus one append-only row per timeline entry.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store { return &Store{db: db} }

// CreateSession 写入会话记录，重复启动时保持原记录不变。
func (s *Store) CreateSession(ctx context.Context, info emotion.SessionInfo) error {
	summary, err := json.Marshal(info.EmotionCounts)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO sessions (session_id, session_name, start_time, summary)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		info.SessionID, info.SessionName, info.StartTime, summary,
	)
	return err
}

// FinishSession 记录结束时间并固化最终计数摘要。
func (s *Store) FinishSession(ctx context.Context, sessionID string, endTime time.Time, counts map[emotion.Label]int) error {
	summary, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx,
		`UPDATE sessions SET end_time = $2, summary = $3 WHERE session_id = $1`,
		sessionID, endTime, summary,
	)
	return err
}

// AppendEvent 追加一条时间线记录，seq 承载写入顺序。
func (s *Store) AppendEvent(ctx context.Context, seq int64, ev emotion.Event) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO emotion_events (session_id, seq, participant_id, emotion, confidence, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		ev.SessionID, seq, ev.ParticipantID, string(ev.Emotion), ev.Confidence, ev.Timestamp,
	)
	return err
}

// LoadSession 读取会话及其完整时间线，未找到时返回 (nil, nil, nil)。
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*emotion.SessionInfo, []emotion.Event, error) {
	info, err := s.scanSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT participant_id, emotion, confidence, ts
		 FROM emotion_events WHERE session_id = $1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var events []emotion.Event
	for rows.Next() {
		var (
			participantID string
			label         string
			confidence    float64
			ts            time.Time
		)
		if err := rows.Scan(&participantID, &label, &confidence, &ts); err != nil {
			return nil, nil, err
		}
		events = append(events, emotion.Event{
			SessionID:     sessionID,
			ParticipantID: participantID,
			Emotion:       emotion.Label(label),
			Confidence:    confidence,
			Timestamp:     ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return info, events, nil
}

// ListSessions 返回全部已持久化会话的摘要，新会话在前。
func (s *Store) ListSessions(ctx context.Context) ([]emotion.SessionInfo, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT session_id, session_name, start_time, end_time, summary
		 FROM sessions ORDER BY start_time DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []emotion.SessionInfo
	for rows.Next() {
		info, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *Store) scanSession(ctx context.Context, sessionID string) (*emotion.SessionInfo, error) {
	row := s.db.Pool.QueryRow(ctx,
		`SELECT session_id, session_name, start_time, end_time, summary
		 FROM sessions WHERE session_id = $1`,
		sessionID,
	)
	info, err := scanSessionRow(row)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (emotion.SessionInfo, error) {
	var (
		info    emotion.SessionInfo
		endTime *time.Time
		summary []byte
	)
	if err := row.Scan(&info.SessionID, &info.SessionName, &info.StartTime, &endTime, &summary); err != nil {
		return emotion.SessionInfo{}, err
	}
	info.EndTime = endTime

	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &info.EmotionCounts); err != nil {
			return emotion.SessionInfo{}, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	for _, count := range info.EmotionCounts {
		info.TotalDetections += count
	}
	return info, nil
}
