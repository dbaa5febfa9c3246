package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/collab-copilot/backend/internal/config"
	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
)

// ErrEmptyTranscript 没有可供摘要的人类消息
var ErrEmptyTranscript = errors.New("transcript has no human messages")

const transcriptLimit = 200

// Summarizer 根据聊天记录生成会议摘要
type Summarizer struct {
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewSummarizer 使用配置的 Ark 模型创建摘要服务
func NewSummarizer(ctx context.Context, cfg config.AIConfig) (*Summarizer, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewSummarizerWithModel(ctx, chatModel, cfg.SummaryPrompt)
}

// NewSummarizerWithModel 在已有聊天模型上构建摘要链
func NewSummarizerWithModel(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string) (*Summarizer, error) {
	if systemPrompt == "" {
		systemPrompt = config.DefaultSummaryPrompt
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("Meeting: {meeting}\n\nTranscript:\n{transcript}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	return &Summarizer{
		systemPrompt: systemPrompt,
		chain:        runnable,
	}, nil
}

// Summarize 对记录中的人类消息生成 markdown 摘要
func (s *Summarizer) Summarize(ctx context.Context, meetingName string, messages []meeting.Message) (string, error) {
	transcript := BuildTranscript(messages)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":     s.systemPrompt,
		"meeting":    meetingName,
		"transcript": transcript,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run summary chain: %w", err)
	}

	summary := strings.TrimSpace(response.Content)
	log.Printf("[ai] generated summary for meeting=%q, messages=%d, length=%d", meetingName, len(messages), len(summary))
	return summary, nil
}

// BuildTranscript 将消息渲染为 "[时间] 名字: 内容" 行（无时间戳时省略方括号），跳过 AI 消息并只保留最近的记录。
func BuildTranscript(messages []meeting.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.IsAI || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		name := msg.SenderName
		if name == "" {
			name = msg.Sender
		}
		if name == "" {
			name = "Unknown"
		}
		line := fmt.Sprintf("%s: %s", name, strings.TrimSpace(msg.Content))
		if msg.Timestamp != "" {
			line = fmt.Sprintf("[%s] %s", msg.Timestamp, line)
		}
		lines = append(lines, line)
	}

	if len(lines) > transcriptLimit {
		lines = lines[len(lines)-transcriptLimit:]
	}
	return strings.Join(lines, "\n")
}
