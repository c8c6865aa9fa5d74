package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"pdfchat/internal/apperr"
)

var errPublishTimeout = errors.New("timeout waiting for NSQ publish")

type ClientConfig struct {
	NSQDHost       string
	NSQDHTTP       string
	Lookupd        string
	Channel        string
	Concurrency    int
	MsgTimeout     time.Duration
	PublishTimeout time.Duration
}

// Client owns the NSQ producer and every consumer created through it.
type Client struct {
	cfg ClientConfig

	mu        sync.Mutex
	producer  *nsq.Producer
	consumers []*nsq.Consumer
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect creates the producer and checks nsqd is reachable.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer != nil {
		return nil
	}
	producer, err := nsq.NewProducer(c.cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return fmt.Errorf("nsq producer error: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return fmt.Errorf("%w: %w", apperr.ErrQueueUnavailable, err)
	}
	c.producer = producer
	return ctx.Err()
}

// Publish sends body to topic, giving up when ctx ends or the publish
// timeout elapses. A publish still in flight when Publish gives up may yet
// land; its outcome is logged so a resubmitted duplicate can be traced.
func (c *Client) Publish(ctx context.Context, topic string, body []byte) error {
	c.mu.Lock()
	producer := c.producer
	c.mu.Unlock()
	if producer == nil {
		return fmt.Errorf("%w: client not connected", apperr.ErrQueueUnavailable)
	}

	return publishWithTimeout(ctx, c.cfg.PublishTimeout, func(done chan *nsq.ProducerTransaction) error {
		return producer.PublishAsync(topic, body, done)
	}, func(err error) {
		if err != nil {
			slog.WarnContext(ctx, "abandoned publish failed", "topic", topic, "error", err)
			return
		}
		slog.WarnContext(ctx, "abandoned publish was delivered after the caller gave up", "topic", topic)
	})
}

// publishWithTimeout waits for the transaction started by publish. When it
// gives up first, late receives the transaction's eventual outcome.
func publishWithTimeout(ctx context.Context, timeout time.Duration, publish func(done chan *nsq.ProducerTransaction) error, late func(err error)) error {
	done := make(chan *nsq.ProducerTransaction, 1)
	if err := publish(done); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrQueueUnavailable, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case t := <-done:
		if t.Error != nil {
			return fmt.Errorf("%w: %w", apperr.ErrQueueUnavailable, t.Error)
		}
		return nil
	case <-timer.C:
		cause = errPublishTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	}

	go func() {
		t := <-done
		if late != nil {
			late(t.Error)
		}
	}()
	return fmt.Errorf("%w: %w", apperr.ErrQueueUnavailable, cause)
}

// Subscribe starts consuming topic. Every message is handed to h with at most
// Concurrency messages in flight.
func (c *Client) Subscribe(topic string, h nsq.Handler) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = c.cfg.Concurrency
	// attempts are counted by the harness, not by go-nsq
	nsqCfg.MaxAttempts = 0
	if c.cfg.MsgTimeout > 0 {
		nsqCfg.MsgTimeout = c.cfg.MsgTimeout
	}

	consumer, err := nsq.NewConsumer(topic, c.cfg.Channel, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(newNSQLogger(), nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(h, c.cfg.Concurrency)

	if err := consumer.ConnectToNSQLookupd(c.cfg.Lookupd); err != nil {
		consumer.Stop()
		return fmt.Errorf("%w: lookupd: %w", apperr.ErrQueueUnavailable, err)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, consumer)
	c.mu.Unlock()

	slog.Info("subscribed", "topic", topic, "channel", c.cfg.Channel, "concurrency", c.cfg.Concurrency)
	return nil
}

// CreateTopics registers topics with nsqd so consumers can attach before the
// first publish.
func (c *Client) CreateTopics(ctx context.Context, topics ...string) {
	for _, topic := range topics {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", c.cfg.NSQDHTTP, topic)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			continue
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}
}

// Close stops consumers first so in-flight messages drain, then the producer.
func (c *Client) Close() {
	c.mu.Lock()
	consumers := c.consumers
	producer := c.producer
	c.consumers = nil
	c.producer = nil
	c.mu.Unlock()

	for _, consumer := range consumers {
		consumer.Stop()
		<-consumer.StopChan
	}
	if producer != nil {
		producer.Stop()
	}
}

type nsqLogger struct{}

func newNSQLogger() nsqLogger { return nsqLogger{} }

func (nsqLogger) Output(calldepth int, s string) error {
	slog.Warn("nsq", "message", s)
	return nil
}
