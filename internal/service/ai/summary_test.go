package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/collab-copilot/backend/internal/model/meeting"
)

// stubChatModel 记录输入消息，便于测试检查渲染后的提示词。
type stubChatModel struct {
	inputs [][]*schema.Message
}

func (s *stubChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.inputs = append(s.inputs, input)
	return schema.AssistantMessage("  ## Summary\nAll good.  ", nil), nil
}

func (s *stubChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	s.inputs = append(s.inputs, input)
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("## Summary\nAll good.", nil)}), nil
}

func TestBuildTranscriptSkipsAIMessages(t *testing.T) {
	transcript := BuildTranscript([]meeting.Message{
		{Content: "hello", Sender: "u1", SenderName: "Ana", Timestamp: "10:00"},
		{Content: "summary", Sender: "ai", IsAI: true, Timestamp: "10:01"},
		{Content: "  ", Sender: "u2", Timestamp: "10:02"},
		{Content: "ship it", Sender: "u2", Timestamp: "10:03"},
	})

	want := "[10:00] Ana: hello\n[10:03] u2: ship it"
	if transcript != want {
		t.Fatalf("BuildTranscript = %q, want %q", transcript, want)
	}
}

func TestBuildTranscriptWithoutTimestamp(t *testing.T) {
	transcript := BuildTranscript([]meeting.Message{
		{Content: "hi", SenderName: "Bo"},
		{Content: "anyone?"},
	})

	want := "Bo: hi\nUnknown: anyone?"
	if transcript != want {
		t.Fatalf("BuildTranscript = %q, want %q", transcript, want)
	}
}

func TestSummarizeRejectsEmptyTranscript(t *testing.T) {
	s := &Summarizer{}
	_, err := s.Summarize(context.Background(), "Standup", []meeting.Message{{Content: "bot", IsAI: true}})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestSummarizeRunsChain(t *testing.T) {
	stub := &stubChatModel{}
	s, err := NewSummarizerWithModel(context.Background(), stub, "")
	if err != nil {
		t.Fatalf("NewSummarizerWithModel err: %v", err)
	}

	summary, err := s.Summarize(context.Background(), "Standup", []meeting.Message{
		{Content: "we ship friday", Sender: "u1", SenderName: "Ana", Timestamp: "10:00"},
	})
	if err != nil {
		t.Fatalf("Summarize err: %v", err)
	}
	if summary != "## Summary\nAll good." {
		t.Fatalf("unexpected summary %q", summary)
	}

	if len(stub.inputs) != 1 || len(stub.inputs[0]) != 2 {
		t.Fatalf("expected system + user prompt, got %+v", stub.inputs)
	}
	user := stub.inputs[0][1].Content
	if !strings.Contains(user, "Meeting: Standup") || !strings.Contains(user, "Ana: we ship friday") {
		t.Fatalf("unexpected user prompt %q", user)
	}
}
