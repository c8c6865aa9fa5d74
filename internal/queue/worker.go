package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"pdfchat/internal/apperr"
	"pdfchat/internal/middleware"
	"pdfchat/internal/retry"
)

// Result is what a Handler reports for one delivery.
type Result struct {
	Err error
}

func Succeeded() Result { return Result{} }

func Failed(err error) Result { return Result{Err: err} }

func (r Result) OK() bool { return r.Err == nil }

// Delivery is one attempt at processing a queued job.
type Delivery struct {
	ID            string
	Job           UploadJob
	CorrelationID string
	// Attempt is 1 on first delivery.
	Attempt int

	msg *nsq.Message
}

// Ack removes the job from the queue.
func (d *Delivery) Ack() {
	if d.msg != nil && !d.msg.HasResponded() {
		d.msg.Finish()
	}
}

// Nack hands the job back to the queue for redelivery after delay.
func (d *Delivery) Nack(delay time.Duration) {
	if d.msg != nil && !d.msg.HasResponded() {
		d.msg.RequeueWithoutBackoff(delay)
	}
}

type Handler interface {
	Process(ctx context.Context, d *Delivery) Result
}

type HandlerFunc func(ctx context.Context, d *Delivery) Result

func (f HandlerFunc) Process(ctx context.Context, d *Delivery) Result {
	return f(ctx, d)
}

// DeadLetter is a job that will not be retried automatically.
type DeadLetter struct {
	JobID    string
	TenantID string
	Handler  string
	Payload  []byte
	Error    string
	Attempts int
}

type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

// Worker adapts a Handler to nsq.Handler and applies the retry policy.
type Worker struct {
	name    string
	handler Handler
	sink    DeadLetterSink
	policy  retry.Policy
	timeout time.Duration
}

func NewWorker(name string, h Handler, sink DeadLetterSink, policy retry.Policy, timeout time.Duration) *Worker {
	return &Worker{name: name, handler: h, sink: sink, policy: policy, timeout: timeout}
}

// HandleMessage always responds to the message itself and returns nil, so
// go-nsq never applies its own requeue logic.
func (w *Worker) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	attempt := int(m.Attempts)

	env, err := DecodeEnvelope(m.Body)
	if err != nil {
		ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())
		slog.ErrorContext(ctx, "undecodable job", "message_id", messageID(m), "error", err)
		w.deadLetter(ctx, m, DeadLetter{
			JobID:    messageID(m),
			Handler:  w.name,
			Payload:  m.Body,
			Error:    err.Error(),
			Attempts: attempt,
		})
		return nil
	}

	correlationID := env.CorrelationID
	if correlationID == "" || correlationID == "unknown" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithTenantID(ctx, env.Job.TenantID)
	ctx = middleware.WithJobID(ctx, env.ID)

	d := &Delivery{
		ID:            env.ID,
		Job:           env.Job,
		CorrelationID: correlationID,
		Attempt:       attempt,
		msg:           m,
	}

	slog.InfoContext(ctx, "processing job", "attempt", attempt, "document", env.Job.DocumentName)
	start := time.Now()

	res := w.process(ctx, d)
	if m.HasResponded() {
		return nil
	}

	if res.OK() {
		slog.InfoContext(ctx, "job completed", "duration", time.Since(start))
		d.Ack()
		return nil
	}

	kind := apperr.Classify(res.Err)
	if kind == apperr.KindTransient && !w.policy.Exhausted(attempt) {
		delay := w.policy.Delay(attempt)
		slog.WarnContext(ctx, "job failed, requeueing", "attempt", attempt, "delay", delay, "error", res.Err)
		d.Nack(delay)
		return nil
	}

	slog.ErrorContext(ctx, "job failed permanently", "attempt", attempt, "kind", kind.String(), "error", res.Err)
	w.deadLetter(ctx, m, DeadLetter{
		JobID:    env.ID,
		TenantID: env.Job.TenantID,
		Handler:  w.name,
		Payload:  m.Body,
		Error:    res.Err.Error(),
		Attempts: attempt,
	})
	return nil
}

func (w *Worker) process(ctx context.Context, d *Delivery) (res Result) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "handler panicked", "panic", r)
			res = Failed(errors.New("handler panicked"))
		}
	}()

	res = w.handler.Process(ctx, d)
	// a job cut short by its own deadline is worth another attempt
	if res.Err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(res.Err, context.DeadlineExceeded) {
		res.Err = errors.Join(res.Err, context.DeadlineExceeded)
	}
	return res
}

func (w *Worker) deadLetter(ctx context.Context, m *nsq.Message, dl DeadLetter) {
	if w.sink == nil {
		slog.ErrorContext(ctx, "no dead-letter sink, dropping job", "job_id", dl.JobID)
		m.Finish()
		return
	}
	if err := w.sink.DeadLetter(ctx, dl); err != nil {
		delay := w.policy.Delay(dl.Attempts)
		slog.ErrorContext(ctx, "failed to dead-letter job, requeueing", "error", err, "delay", delay)
		m.RequeueWithoutBackoff(delay)
		return
	}
	slog.InfoContext(ctx, "job dead-lettered", "job_id", dl.JobID)
	m.Finish()
}

func messageID(m *nsq.Message) string {
	return string(m.ID[:])
}
