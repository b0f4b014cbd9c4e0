package engagement

import (
	"fmt"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// 预警阈值作用在全程累计的负向情绪占比上，是比窗口化参与度分数
// 更迟钝但更稳定的信号。
const (
	DefaultAlertLow  = 35.0
	DefaultAlertHigh = 60.0
)

// EvaluateAlert 对当前情绪占比做无状态的阈值判断。条件解除时返回 nil，
// 预警不粘滞；需要边沿触发语义的调用方自行与上一次结果比较。
// 阈值为 0 是合法配置（必告警），只有负值回退到默认值。
func EvaluateAlert(percentages map[emotion.Label]float64, low, high float64) *emotion.Alert {
	if low < 0 {
		low = DefaultAlertLow
	}
	if high < 0 {
		high = DefaultAlertHigh
	}

	disengaged := 0.0
	for label, pct := range percentages {
		if label.Sentiment() == emotion.Negative {
			disengaged += pct
		}
	}
	disengaged = round2(disengaged)

	switch {
	case disengaged >= high:
		return &emotion.Alert{
			Level:      "high",
			Message:    fmt.Sprintf("High disengagement detected (%.1f%% negative emotions). Consider engaging participants.", disengaged),
			Percentage: disengaged,
		}
	case disengaged >= low:
		return &emotion.Alert{
			Level:      "low",
			Message:    fmt.Sprintf("Moderate disengagement detected (%.1f%% negative emotions).", disengaged),
			Percentage: disengaged,
		}
	default:
		return nil
	}
}
