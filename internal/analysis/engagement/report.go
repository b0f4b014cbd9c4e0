package engagement

import (
	"math"
	"time"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

const (
	// DefaultBucketInterval 是报表时间片的默认宽度。
	DefaultBucketInterval = 5 * time.Minute

	// DefaultAnomalyThreshold 是置信度异常判定的 z-score 阈值。
	DefaultAnomalyThreshold = 2.0

	// 样本太少时标准差没有意义，不做异常检测。
	anomalyMinSamples = 10
)

// Buckets 把时间线按固定间隔切片，每片给出该时段的计数与占比。
// 时间线本身按写入顺序存储，这里按时间戳重新衡量归属。
func Buckets(timeline []emotion.Event, interval time.Duration) []emotion.TimelineBucket {
	if len(timeline) == 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultBucketInterval
	}

	start := timeline[0].Timestamp
	for _, ev := range timeline {
		if ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
	}

	grouped := make(map[int][]emotion.Event)
	maxIdx := 0
	for _, ev := range timeline {
		idx := int(ev.Timestamp.Sub(start) / interval)
		if idx < 0 {
			idx = 0
		}
		grouped[idx] = append(grouped[idx], ev)
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	buckets := make([]emotion.TimelineBucket, 0, len(grouped))
	for idx := 0; idx <= maxIdx; idx++ {
		events, ok := grouped[idx]
		if !ok {
			continue
		}

		counts := make(map[emotion.Label]int)
		for _, ev := range events {
			counts[ev.Emotion]++
		}

		bucketStart := start.Add(time.Duration(idx) * interval)
		buckets = append(buckets, emotion.TimelineBucket{
			Start:              bucketStart,
			End:                bucketStart.Add(interval),
			TotalDetections:    len(events),
			EmotionCounts:      counts,
			EmotionPercentages: Percentages(counts, len(events)),
		})
	}
	return buckets
}

// Anomalies 用 z-score 找出置信度显著偏离会话均值的观测，
// 通常意味着采集或推理环节出了问题。
func Anomalies(timeline []emotion.Event, threshold float64) []emotion.Anomaly {
	if len(timeline) < anomalyMinSamples {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}

	mean := 0.0
	for _, ev := range timeline {
		mean += ev.Confidence
	}
	mean /= float64(len(timeline))

	variance := 0.0
	for _, ev := range timeline {
		diff := ev.Confidence - mean
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(timeline)))
	if stddev == 0 {
		return nil
	}

	var anomalies []emotion.Anomaly
	for i, ev := range timeline {
		z := math.Abs((ev.Confidence - mean) / stddev)
		if z <= threshold {
			continue
		}
		anomalies = append(anomalies, emotion.Anomaly{
			Index:         i,
			ParticipantID: ev.ParticipantID,
			Emotion:       ev.Emotion,
			Confidence:    ev.Confidence,
			ZScore:        round2(z),
			Timestamp:     ev.Timestamp,
			Message:       "unusual confidence level detected",
		})
	}
	return anomalies
}
