package engagement

import (
	"math"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// DefaultWindow 是参与度评分默认回看的最近事件数。
const DefaultWindow = 10

// Score 根据时间线上最近 window 条事件计算 0-100 的参与度分数。
// 正向情绪加分、负向情绪减分、中性情绪完全不计入；空窗口或纯中性
// 窗口回到 50 分基线，避免"没有证据"被误读成"没有参与"。
func Score(timeline []emotion.Event, window int) float64 {
	if window <= 0 {
		window = DefaultWindow
	}

	start := len(timeline) - window
	if start < 0 {
		start = 0
	}
	recent := timeline[start:]

	positive, negative := 0, 0
	for _, ev := range recent {
		switch ev.Emotion.Sentiment() {
		case emotion.Positive:
			positive++
		case emotion.Negative:
			negative++
		}
	}

	size := len(recent)
	if size < 1 {
		size = 1
	}

	score := 50 + float64(positive-negative)/float64(size)*50
	return clamp(score, 0, 100)
}

// Percentages 按需从累计计数推导各情绪占比，避免冗余存储带来的漂移。
// total 为 0 时全部返回 0 而不是 NaN。
func Percentages(counts map[emotion.Label]int, total int) map[emotion.Label]float64 {
	result := make(map[emotion.Label]float64, len(counts))
	for label, count := range counts {
		if total > 0 {
			result[label] = round2(float64(count) / float64(total) * 100)
		} else {
			result[label] = 0
		}
	}
	return result
}

// SentimentSplit 把累计计数折算成正向/负向/中性三类占比。
func SentimentSplit(counts map[emotion.Label]int, total int) map[emotion.Sentiment]float64 {
	buckets := map[emotion.Sentiment]int{
		emotion.Positive:         0,
		emotion.Negative:         0,
		emotion.NeutralSentiment: 0,
	}
	for label, count := range counts {
		buckets[label.Sentiment()] += count
	}

	result := make(map[emotion.Sentiment]float64, len(buckets))
	for sentiment, count := range buckets {
		if total > 0 {
			result[sentiment] = round2(float64(count) / float64(total) * 100)
		} else {
			result[sentiment] = 0
		}
	}
	return result
}

// AttentionLevel 把参与度分数映射为关注级别与给主持人的建议。
func AttentionLevel(score float64) (string, string) {
	switch {
	case score >= 70:
		return "high", "Participants are highly engaged! Keep up the good work."
	case score >= 40:
		return "medium", "Moderate engagement. Consider interactive activities."
	default:
		return "low", "Low engagement detected. Try to interact more with participants."
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
