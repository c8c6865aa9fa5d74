// Package apperr holds the error taxonomy shared by the ingestion and query
// pipelines. Callers wrap causes with fmt.Errorf and the sentinels below; the
// queue harness and HTTP handlers use Classify to decide between retrying,
// dead-lettering and surfacing an error.
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrInvalidJob is returned when an upload job is missing required fields.
	ErrInvalidJob = errors.New("invalid upload job")
	// ErrQueueUnavailable is returned when the queue cannot accept writes.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrSourceUnavailable is returned when the source file cannot be fetched.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrUnparsableDocument is returned when the source file is not a readable PDF.
	ErrUnparsableDocument = errors.New("unparsable document")
	// ErrEmptyQuery is returned when the chat query is blank.
	ErrEmptyQuery = errors.New("empty query")
	// ErrMissingTenant is returned when an operation has no tenant identity.
	ErrMissingTenant = errors.New("missing tenant")
	// ErrRetrieval is returned when the query embedding or index lookup fails.
	ErrRetrieval = errors.New("retrieval failed")
	// ErrGeneration is returned when the language model call fails.
	ErrGeneration = errors.New("generation failed")
	// ErrConfiguration marks errors caused by missing or invalid configuration.
	ErrConfiguration = errors.New("configuration error")
)

type Kind int

const (
	// KindTransient errors are retried with backoff.
	KindTransient Kind = iota
	// KindTerminal errors are never retried.
	KindTerminal
	// KindConfiguration errors mean the process cannot work at all.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindConfiguration:
		return "configuration"
	default:
		return "transient"
	}
}

var terminal = []error{
	ErrInvalidJob,
	ErrUnparsableDocument,
	ErrEmptyQuery,
	ErrMissingTenant,
}

// Classify maps an error onto the retry taxonomy. Unknown errors are treated
// as transient since they almost always come from a remote call.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	if errors.Is(err, ErrConfiguration) {
		return KindConfiguration
	}
	for _, t := range terminal {
		if errors.Is(err, t) {
			return KindTerminal
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindTerminal
	}
	return KindTransient
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return err != nil && Classify(err) == KindTransient
}
