package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"superagent/app/pkg/logger"
	"superagent/app/pkg/types"
)

// Gateway fans inbound messages from every registered channel into the agent
// and delivers the replies back to the channel they came from.
type Gateway struct {
	mu       sync.RWMutex
	agent    types.Agent
	channels map[string]types.Channel

	processedMessages uint64
	failedMessages    uint64
	lastMessageUnix   atomic.Int64
	startedUnix       atomic.Int64
}

type HealthStatus struct {
	Started            bool      `json:"started"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	AgentName          string    `json:"agent_name"`
	RegisteredChannels []string  `json:"registered_channels"`
	ProcessedMessages  uint64    `json:"processed_messages"`
	FailedMessages     uint64    `json:"failed_messages"`
	LastMessageAt      time.Time `json:"last_message_at,omitempty"`
}

func New(agent types.Agent) *Gateway {
	return &Gateway{
		agent:    agent,
		channels: make(map[string]types.Channel),
	}
}

func (g *Gateway) RegisterChannel(c types.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
	logger.Info("Registered channel: %s", c.ID())
}

// Start runs every registered channel and blocks until all of them return.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.RLock()
	agent := g.agent
	g.mu.RUnlock()
	if agent == nil {
		return fmt.Errorf("gateway: no agent configured")
	}

	g.startedUnix.Store(time.Now().Unix())

	handler := func(msg types.Message) {
		atomic.AddUint64(&g.processedMessages, 1)
		g.lastMessageUnix.Store(time.Now().Unix())
		if err := g.processAndReply(ctx, msg); err != nil {
			atomic.AddUint64(&g.failedMessages, 1)
			logger.Error("Processing failed for channel=%s user=%s: %v", msg.ChannelID, msg.UserID, err)
			g.sendErrorReply(ctx, msg, "Error: "+err.Error())
		}
	}

	var wg sync.WaitGroup
	g.mu.RLock()
	for _, c := range g.channels {
		wg.Add(1)
		go func(ch types.Channel) {
			defer wg.Done()
			if err := ch.Start(ctx, handler); err != nil && ctx.Err() == nil {
				logger.Error("Channel %s stopped: %v", ch.ID(), err)
			}
		}(c)
	}
	g.mu.RUnlock()

	logger.Info("Gateway started all channels")
	wg.Wait()
	return nil
}

func (g *Gateway) processAndReply(ctx context.Context, msg types.Message) error {
	response, err := g.agent.Process(ctx, msg)
	if err != nil {
		return fmt.Errorf("agent process: %w", err)
	}
	if strings.TrimSpace(response.Content) == "" {
		return nil
	}

	channel, ok := g.channelByID(msg.ChannelID)
	if !ok {
		return fmt.Errorf("channel not found for reply: %s", msg.ChannelID)
	}

	normalizeReply(&response, msg)
	if err := channel.Send(ctx, response); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (g *Gateway) sendErrorReply(ctx context.Context, msg types.Message, reason string) {
	channel, ok := g.channelByID(msg.ChannelID)
	if !ok {
		return
	}
	response := types.Message{
		ID:        "resp-" + msg.ID,
		Content:   reason,
		Role:      types.MessageRoleAssistant,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		RequestID: msg.RequestID,
	}
	if err := channel.Send(ctx, response); err != nil {
		logger.Error("Failed to deliver error reply on %s: %v", msg.ChannelID, err)
	}
}

func normalizeReply(response *types.Message, request types.Message) {
	if response.ID == "" {
		response.ID = "resp-" + request.ID
	}
	if response.ChannelID == "" {
		response.ChannelID = request.ChannelID
	}
	if response.Role == "" {
		response.Role = types.MessageRoleAssistant
	}
	if response.UserID == "" {
		response.UserID = request.UserID
	}
	if response.RequestID == "" {
		response.RequestID = request.RequestID
	}
}

func (g *Gateway) channelByID(channelID string) (types.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	channel, ok := g.channels[channelID]
	return channel, ok
}

func (g *Gateway) HealthStatus() HealthStatus {
	g.mu.RLock()
	channels := make([]string, 0, len(g.channels))
	for id := range g.channels {
		channels = append(channels, id)
	}
	agentName := ""
	if g.agent != nil {
		agentName = g.agent.Name()
	}
	g.mu.RUnlock()
	sort.Strings(channels)

	status := HealthStatus{
		AgentName:          agentName,
		RegisteredChannels: channels,
		ProcessedMessages:  atomic.LoadUint64(&g.processedMessages),
		FailedMessages:     atomic.LoadUint64(&g.failedMessages),
	}
	if started := g.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0).UTC()
	}
	if last := g.lastMessageUnix.Load(); last > 0 {
		status.LastMessageAt = time.Unix(last, 0).UTC()
	}
	return status
}
