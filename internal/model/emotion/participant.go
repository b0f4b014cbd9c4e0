package emotion

import "time"

// ParticipantState holds the latest known emotion for one tracked face.
// Entries are created on first sight and never deleted within a session;
// a participant who leaves simply stops updating.
type ParticipantState struct {
	ParticipantID  string    `json:"participantId"`
	LastEmotion    Label     `json:"lastEmotion"`
	LastConfidence float64   `json:"lastConfidence"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Observe applies one event with last-write-wins semantics. Late events
// older than the current state are dropped so concurrent classification
// results arriving out of order never rewind a participant.
func (p *ParticipantState) Observe(ev Event) bool {
	if !p.LastUpdated.IsZero() && ev.Timestamp.Before(p.LastUpdated) {
		return false
	}
	p.LastEmotion = ev.Emotion
	p.LastConfidence = ev.Confidence
	p.LastUpdated = ev.Timestamp
	return true
}

// StaleAt 判断参与者在给定时间点是否已超过静默阈值。
func (p *ParticipantState) StaleAt(now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return now.Sub(p.LastUpdated) > window
}
