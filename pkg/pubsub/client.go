package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

// ErrResourceMissing is returned when a configured topic or subscription does
// not exist in the project. Resources are provisioned out of band.
var ErrResourceMissing = errors.New("pubsub resource missing")

var (
	errNoProject     = errors.New("gcp project id is required")
	errNoSubscriber  = errors.New("at least one pubsub subscription must be configured")
	errNilPubSubConn = errors.New("pubsub client not initialized")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// Client resolves the ticketbooth topics and subscriptions against one GCP
// project and hands out publisher/subscriber handles for them.
type Client struct {
	ps      *pubsub.Client
	project string
	cfg     config.PubSubConfig
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errNoProject
	}

	ps, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("open pubsub client: %w", err)
	}

	c := &Client{ps: ps, project: project, cfg: cfg}
	if err := c.verify(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"gcp_project":   project,
			"subscriptions": len(configured(cfg.IssuanceSubscription, cfg.NotificationSubscription)),
			"topics":        len(configured(cfg.OrdersTopic, cfg.IssuanceTopic, cfg.NotificationTopic)),
		})
		logg.Info(ctx, "pubsub client ready")
	}
	return c, nil
}

// verify checks that every configured subscription and topic is reachable.
func (c *Client) verify(ctx context.Context) error {
	subs := configured(c.cfg.IssuanceSubscription, c.cfg.NotificationSubscription)
	if len(subs) == 0 {
		return errNoSubscriber
	}
	for _, name := range subs {
		_, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.qualify(kindSubscription, name),
		})
		if err := classify(kindSubscription, name, err); err != nil {
			return err
		}
	}
	for _, name := range configured(c.cfg.OrdersTopic, c.cfg.IssuanceTopic, c.cfg.NotificationTopic) {
		_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: c.qualify(kindTopic, name),
		})
		if err := classify(kindTopic, name, err); err != nil {
			return err
		}
	}
	return nil
}

func classify(kind resourceKind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %s/%s", ErrResourceMissing, kind, name)
	default:
		return fmt.Errorf("lookup %s/%s: %w", kind, name, err)
	}
}

func configured(names ...string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// qualify expands a short id into a full resource path. Full paths of the
// same kind pass through unchanged.
func (c *Client) qualify(kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || c == nil {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	if c.project == "" {
		return ""
	}
	return "projects/" + c.project + "/" + string(kind) + "/" + name
}

// Subscription returns a subscriber for a subscription id or resource path.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.ps == nil {
		return nil
	}
	if full := c.qualify(kindSubscription, name); full != "" {
		return c.ps.Subscriber(full)
	}
	return nil
}

func (c *Client) IssuanceSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.IssuanceSubscription)
}

func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

// Publisher returns a publisher for a topic id or resource path.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.ps == nil {
		return nil
	}
	if full := c.qualify(kindTopic, name); full != "" {
		return c.ps.Publisher(full)
	}
	return nil
}

// Ping re-runs the resource checks; used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNilPubSubConn
	}
	return c.verify(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}
