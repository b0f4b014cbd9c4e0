package emotion

import (
	"fmt"
	"math"
	"time"
)

// ValidationError 描述单个字段的校验失败原因。
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalize validates a raw observation and converts it into an Event.
// It is a pure function: out-of-range confidence is rejected rather than
// clamped, so upstream data-quality bugs stay visible.
func Normalize(sessionID string, raw RawEvent, now time.Time) (Event, error) {
	if sessionID == "" {
		return Event{}, &ValidationError{Field: "sessionId", Reason: "required"}
	}
	if raw.ParticipantID == "" {
		return Event{}, &ValidationError{Field: "participantId", Reason: "required"}
	}

	label, ok := ParseLabel(raw.Emotion)
	if !ok {
		return Event{}, &ValidationError{Field: "emotion", Reason: fmt.Sprintf("unknown label %q", raw.Emotion)}
	}

	// NaN 不落在任何区间比较里，必须单独拦截，否则会污染置信度累计。
	if math.IsNaN(raw.Confidence) || raw.Confidence < 0 || raw.Confidence > 100 {
		return Event{}, &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%.2f outside [0,100]", raw.Confidence)}
	}

	ts := now
	if raw.Timestamp > 0 {
		ts = time.UnixMilli(raw.Timestamp).UTC()
	}

	return Event{
		SessionID:     sessionID,
		ParticipantID: raw.ParticipantID,
		Emotion:       label,
		Confidence:    raw.Confidence,
		Timestamp:     ts,
	}, nil
}
