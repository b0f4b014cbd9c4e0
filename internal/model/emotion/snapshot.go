package emotion

import "time"

// Alert 表示负向情绪占比越过阈值后的脱离预警。
type Alert struct {
	Level      string  `json:"level"` // "low" | "high"
	Message    string  `json:"message"`
	Percentage float64 `json:"percentage"`
}

// Snapshot is the live view of one session's aggregated statistics.
type Snapshot struct {
	SessionID          string                `json:"sessionId"`
	SessionName        string                `json:"sessionName,omitempty"`
	Active             bool                  `json:"active"`
	TotalDetections    int                   `json:"totalDetections"`
	ParticipantCount   int                   `json:"participantCount"`
	ActiveParticipants int                   `json:"activeParticipants"`
	EmotionCounts      map[Label]int         `json:"emotionCounts"`
	EmotionPercentages map[Label]float64     `json:"emotionPercentages"`
	Sentiment          map[Sentiment]float64 `json:"sentiment"`
	AverageConfidence  float64               `json:"averageConfidence"`
	EngagementScore    float64               `json:"engagementScore"`
	AttentionLevel     string                `json:"attentionLevel"`
	Recommendation     string                `json:"recommendation"`
	Alert              *Alert                `json:"alert,omitempty"`
	Timestamp          time.Time             `json:"timestamp"`
}

// TimelineBucket 是报表中按固定时间片聚合出的一段统计。
type TimelineBucket struct {
	Start              time.Time         `json:"start"`
	End                time.Time         `json:"end"`
	TotalDetections    int               `json:"totalDetections"`
	EmotionCounts      map[Label]int     `json:"emotionCounts"`
	EmotionPercentages map[Label]float64 `json:"emotionPercentages"`
}

// Anomaly flags an observation whose confidence deviates sharply from the
// session mean, usually a capture or inference glitch worth reviewing.
type Anomaly struct {
	Index         int       `json:"index"`
	ParticipantID string    `json:"participantId"`
	Emotion       Label     `json:"emotion"`
	Confidence    float64   `json:"confidence"`
	ZScore        float64   `json:"zScore"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
}

// Report is the post-session view: the final snapshot plus the full
// timeline and derived reporting slices.
type Report struct {
	Snapshot     Snapshot           `json:"snapshot"`
	StartTime    time.Time          `json:"startTime"`
	EndTime      *time.Time         `json:"endTime,omitempty"`
	Participants []ParticipantState `json:"participants"`
	Timeline     []Event            `json:"timeline"`
	Buckets      []TimelineBucket   `json:"buckets,omitempty"`
	Anomalies    []Anomaly          `json:"anomalies,omitempty"`
}

// SessionInfo 是报表列表里的会话摘要。
type SessionInfo struct {
	SessionID       string        `json:"sessionId"`
	SessionName     string        `json:"sessionName,omitempty"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	TotalDetections int           `json:"totalDetections"`
	EmotionCounts   map[Label]int `json:"emotionCounts"`
}
