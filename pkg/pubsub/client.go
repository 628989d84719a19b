package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/logger"
)

var (
	ErrNotInitialized    = errors.New("pubsub client not initialized")
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub payments topic is required")
)

// The outbox relay publishes one row at a time and waits for the server id,
// so batching only adds latency.
var outboxPublishSettings = pubsub.PublishSettings{
	DelayThreshold: time.Millisecond,
	CountThreshold: 1,
	ByteThreshold:  pubsub.DefaultPublishSettings.ByteThreshold,
	Timeout:        30 * time.Second,
	FlowControlSettings: pubsub.FlowControlSettings{
		MaxOutstandingMessages: 100,
		MaxOutstandingBytes:    -1,
		LimitExceededBehavior:  pubsub.FlowControlBlock,
	},
}

// Client publishes payment events. It verifies the configured topics on start
// and keeps one publisher per topic for the life of the process.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string

	mu         sync.Mutex
	publishers map[string]*TopicPublisher
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  projectID,
		topics:     topics,
		publishers: map[string]*TopicPublisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"gcp_project": projectID, "topics": topics}), "pubsub client initialized")
	}
	return c, nil
}

func topicNames(cfg config.PubSubConfig) []string {
	names := []string{}
	if trimmed := strings.TrimSpace(cfg.PaymentsTopic); trimmed != "" {
		names = append(names, trimmed)
	}
	return names
}

// Ping checks that every configured topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNotInitialized
	}
	for _, name := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: TopicResourceName(c.projectID, name)})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %q does not exist", name)
		case err != nil:
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Publisher returns the cached publisher for a topic id or resource name, or
// nil when the name cannot be resolved.
func (c *Client) Publisher(name string) *TopicPublisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := TopicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	raw := c.client.Publisher(fullName)
	raw.PublishSettings = outboxPublishSettings
	pub := &TopicPublisher{topic: fullName, pub: raw}
	c.publishers[fullName] = pub
	return pub
}

// Close flushes outstanding messages and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// TopicPublisher publishes to one topic and waits for the server message id.
type TopicPublisher struct {
	topic string
	pub   *pubsub.Publisher
}

func (p *TopicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	id, err := p.pub.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return id, nil
}

// TopicResourceName expands a bare topic ID into projects/<p>/topics/<id>.
// Full resource names pass through unchanged.
func TopicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}
