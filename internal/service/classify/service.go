package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/yuchenzhao/emolens/backend/internal/model/emotion"
)

// ErrUnavailable 表示未配置多模态模型，帧分类功能不可用。
var ErrUnavailable = errors.New("frame classifier unavailable")

// Result 是单帧推理的产出：情绪标签加百分制置信度。
type Result struct {
	Emotion    emotion.Label `json:"emotion"`
	Confidence float64       `json:"confidence"`
}

// Service 用多模态大模型把视频帧分类为情绪标签。引擎本身不依赖它，
// 它只是帧上报路径上的边缘适配器，模型缺失时整条路径返回 503。
type Service struct {
	chatModel model.ChatModel
	enabled   bool
}

// NewService 创建帧分类服务。chatModel 可复用已有的模型实例，为 nil 时服务禁用。
func NewService(chatModel model.ChatModel, enabled bool) *Service {
	return &Service{
		chatModel: chatModel,
		enabled:   enabled && chatModel != nil,
	}
}

// Enabled 返回帧分类是否可用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.chatModel != nil
}

// ClassifyFrame 对一帧 base64 图像做情绪分类。
func (s *Service) ClassifyFrame(ctx context.Context, imageData string) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrUnavailable
	}

	imageData = strings.TrimSpace(imageData)
	if imageData == "" {
		return Result{}, fmt.Errorf("empty image data")
	}
	if !strings.HasPrefix(imageData, "data:") {
		imageData = "data:image/jpeg;base64," + imageData
	}

	messages := []*schema.Message{
		schema.SystemMessage(frameSystemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: frameUserPrompt},
				{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: imageData},
				},
			},
		},
	}

	msg, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return Result{}, fmt.Errorf("frame classification failed: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Result{}, fmt.Errorf("classifier returned empty output")
	}

	return parseClassifierOutput(msg.Content)
}

// parseClassifierOutput 从模型输出中提取 JSON 并校验标签与置信度。
func parseClassifierOutput(content string) (Result, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Result{}, fmt.Errorf("classifier output missing json object")
	}

	var payload struct {
		Emotion    string  `json:"emotion"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return Result{}, fmt.Errorf("classifier output parse failed: %w", err)
	}

	label, ok := emotion.ParseLabel(strings.ToLower(strings.TrimSpace(payload.Emotion)))
	if !ok {
		return Result{}, fmt.Errorf("classifier returned unknown label %q", payload.Emotion)
	}

	confidence := payload.Confidence
	// 有的模型按 0~1 输出，折算成百分比。
	if confidence > 0 && confidence <= 1 {
		confidence *= 100
	}
	if confidence < 0 || confidence > 100 {
		return Result{}, fmt.Errorf("classifier confidence %.2f outside [0,100]", payload.Confidence)
	}

	return Result{Emotion: label, Confidence: confidence}, nil
}

const frameSystemPrompt = "你是一名面部表情分析器。观察图片中最显著的人脸，判断其情绪。\n输出要求：只返回一个 JSON 对象，字段如下：emotion (必须是 happy/sad/angry/surprise/fear/disgust/neutral 之一)、confidence (0~100 之间的数字)。不得输出多余文本。"

const frameUserPrompt = "请对这帧会议画面做情绪分类，返回 JSON。"
