package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"superagent/app/pkg/types"
)

type fakeAgent struct {
	name string
	fail bool
}

func (a *fakeAgent) Name() string {
	return a.name
}

func (a *fakeAgent) Process(ctx context.Context, msg types.Message) (types.Message, error) {
	if a.fail {
		return types.Message{}, fmt.Errorf("skill exploded")
	}
	return types.Message{
		Content:   "echo: " + msg.Content,
		Role:      types.MessageRoleAssistant,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		RequestID: msg.RequestID,
	}, nil
}

type fakeChannel struct {
	id      string
	inbound []types.Message

	mu   sync.Mutex
	sent []types.Message
}

func (c *fakeChannel) ID() string {
	return c.id
}

func (c *fakeChannel) Start(ctx context.Context, handler func(types.Message)) error {
	for _, msg := range c.inbound {
		handler(msg)
	}
	return nil
}

func (c *fakeChannel) Send(ctx context.Context, msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) sentMessages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func runGateway(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Start(ctx); err != nil {
		t.Fatalf("gateway start failed: %v", err)
	}
}

func TestRepliesGoBackToSourceChannel(t *testing.T) {
	channel := &fakeChannel{
		id: "cli",
		inbound: []types.Message{
			{ID: "m1", Content: "hello", Role: types.MessageRoleUser, ChannelID: "cli", UserID: "u-1", RequestID: "r-1"},
		},
	}
	g := New(&fakeAgent{name: "SuperAgent"})
	g.RegisterChannel(channel)

	runGateway(t, g)

	sent := channel.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(sent))
	}
	if sent[0].Content != "echo: hello" {
		t.Fatalf("unexpected reply: %q", sent[0].Content)
	}
	if sent[0].RequestID != "r-1" || sent[0].UserID != "u-1" {
		t.Fatalf("reply lost request context: %+v", sent[0])
	}
}

func TestAgentFailureSendsErrorReply(t *testing.T) {
	channel := &fakeChannel{
		id: "cli",
		inbound: []types.Message{
			{ID: "m1", Content: "boom", Role: types.MessageRoleUser, ChannelID: "cli", UserID: "u-1"},
		},
	}
	g := New(&fakeAgent{name: "SuperAgent", fail: true})
	g.RegisterChannel(channel)

	runGateway(t, g)

	sent := channel.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 error reply, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Content, "skill exploded") {
		t.Fatalf("expected failure reason in reply: %q", sent[0].Content)
	}
	if sent[0].Role != types.MessageRoleAssistant {
		t.Fatalf("expected assistant role, got %s", sent[0].Role)
	}
}

func TestStartWithoutAgent(t *testing.T) {
	g := New(nil)

	if err := g.Start(context.Background()); err == nil {
		t.Fatalf("expected error without agent")
	}
}

func TestHealthStatus(t *testing.T) {
	channel := &fakeChannel{
		id: "cli",
		inbound: []types.Message{
			{ID: "m1", Content: "hello", Role: types.MessageRoleUser, ChannelID: "cli", UserID: "u-1"},
		},
	}
	g := New(&fakeAgent{name: "SuperAgent"})
	g.RegisterChannel(channel)

	runGateway(t, g)

	status := g.HealthStatus()
	if !status.Started {
		t.Fatalf("expected started status")
	}
	if status.AgentName != "SuperAgent" {
		t.Fatalf("unexpected agent name: %s", status.AgentName)
	}
	if len(status.RegisteredChannels) != 1 || status.RegisteredChannels[0] != "cli" {
		t.Fatalf("unexpected channels: %v", status.RegisteredChannels)
	}
	if status.ProcessedMessages != 1 {
		t.Fatalf("expected 1 processed message, got %d", status.ProcessedMessages)
	}
	if status.LastMessageAt.IsZero() {
		t.Fatalf("expected last message timestamp")
	}
}
