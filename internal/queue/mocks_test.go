package queue_test

import (
	"context"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"

	"pdfchat/internal/queue"
)

type MockSink struct{ mock.Mock }

func (m *MockSink) DeadLetter(ctx context.Context, dl queue.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	args := m.Called(ctx, topic, body)
	return args.Error(0)
}

// recordingDelegate captures how a message was responded to.
type recordingDelegate struct {
	mu       sync.Mutex
	finished int
	requeued int
	delay    time.Duration
}

func (d *recordingDelegate) OnFinish(m *nsq.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished++
}

func (d *recordingDelegate) OnRequeue(m *nsq.Message, delay time.Duration, backoff bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requeued++
	d.delay = delay
}

func (d *recordingDelegate) OnTouch(m *nsq.Message) {}

func newMessage(body []byte, attempts uint16) (*nsq.Message, *recordingDelegate) {
	var id nsq.MessageID
	copy(id[:], "0123456789abcdef")
	m := nsq.NewMessage(id, body)
	m.Attempts = attempts
	d := &recordingDelegate{}
	m.Delegate = d
	return m, d
}
