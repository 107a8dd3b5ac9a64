package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// gcpPublishers keeps one ordered publisher per topic for the life of the
// process. Messages sharing an ordering key (the aggregate id) are delivered
// in publish order.
type gcpPublishers struct {
	open func(topic string) *gcppubsub.Publisher

	mu     sync.Mutex
	topics map[string]*gcppubsub.Publisher
}

func newGCPPublishers(open func(topic string) *gcppubsub.Publisher) *gcpPublishers {
	return &gcpPublishers{open: open, topics: map[string]*gcppubsub.Publisher{}}
}

func (g *gcpPublishers) forTopic(topic string) publisher {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.topics[topic]
	if !ok {
		if p = g.open(topic); p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		g.topics[topic] = p
	}
	return gcpPublisher{p}
}

// stop flushes buffered messages and releases every topic publisher.
func (g *gcpPublishers) stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for topic, p := range g.topics {
		p.Stop()
		delete(g.topics, topic)
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpPublishResult{res: g.p.Publish(ctx, msg), p: g.p, key: msg.OrderingKey}
}

type gcpPublishResult struct {
	res *gcppubsub.PublishResult
	p   *gcppubsub.Publisher
	key string
}

// Get waits for the server ack. An ordered key is paused after a failure
// until resumed, so the retry on the next poll can go through.
func (r gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("pubsub returned no publish result")
	}
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.p.ResumePublish(r.key)
	}
	return id, err
}
