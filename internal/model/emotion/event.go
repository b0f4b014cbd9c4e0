package emotion

import "time"

// Label 表示情绪识别模型输出的情绪标签，集合封闭。
type Label string

const (
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Surprise Label = "surprise"
	Fear     Label = "fear"
	Disgust  Label = "disgust"
	Neutral  Label = "neutral"
)

// Labels 按固定顺序返回全部合法标签。
func Labels() []Label {
	return []Label{Happy, Sad, Angry, Surprise, Fear, Disgust, Neutral}
}

// ParseLabel 校验并规范化原始标签字符串。
func ParseLabel(raw string) (Label, bool) {
	switch Label(raw) {
	case Happy, Sad, Angry, Surprise, Fear, Disgust, Neutral:
		return Label(raw), true
	default:
		return "", false
	}
}

// Sentiment 把情绪标签归入正向/负向/中性三类。
type Sentiment string

const (
	Positive         Sentiment = "positive"
	Negative         Sentiment = "negative"
	NeutralSentiment Sentiment = "neutral"
)

// Sentiment 返回标签所属的情绪倾向。中性情绪既不加分也不减分。
func (l Label) Sentiment() Sentiment {
	switch l {
	case Happy, Surprise:
		return Positive
	case Sad, Angry, Fear, Disgust:
		return Negative
	default:
		return NeutralSentiment
	}
}

// Event is one accepted classification observation inside a session.
type Event struct {
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	Emotion       Label     `json:"emotion"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// RawEvent is the wire shape delivered by capture collaborators before validation.
// Timestamp carries Unix milliseconds; zero means "use server time".
type RawEvent struct {
	ParticipantID string  `json:"participantId"`
	Emotion       string  `json:"emotion"`
	Confidence    float64 `json:"confidence"`
	Timestamp     int64   `json:"timestamp,omitempty"`
}
