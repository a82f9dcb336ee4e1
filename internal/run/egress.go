package run

import (
	"context"
	"fmt"

	"github.com/tracer-cloud/tracerd/internal/httpclient"
	"github.com/tracer-cloud/tracerd/internal/types"
)

// logicalEventWire is the logical log event wire format posted to the
// configured logging backend. Timestamp is seconds since the epoch as a
// float, distinct from the RFC3339Nano timestamp used by the internal
// Event representation.
type logicalEventWire struct {
	Message       string      `json:"message"`
	ProcessType   string      `json:"process_type"`
	ProcessStatus string      `json:"process_status"`
	EventType     string      `json:"event_type"`
	Timestamp     float64     `json:"timestamp"`
	Attributes    interface{} `json:"attributes,omitempty"`
}

// Egress posts one-off logical log events directly to the logging backend,
// bypassing the batch submitter's DB/columnar sinks. Used for LogMessage
// and Alert, which the original system emits immediately rather than
// batching.
type Egress struct {
	client *httpclient.Client
	now    func() float64
}

// NewEgress wraps an httpclient.Client for one-off event posting.
func NewEgress(client *httpclient.Client) *Egress {
	return &Egress{client: client, now: nowSeconds}
}

// LogMessage posts a run_status_message event with the given text.
func (e *Egress) LogMessage(ctx context.Context, message string) error {
	return e.post(ctx, types.TagRunStatusMessage, message, nil)
}

// Alert posts an alert event with the given text.
func (e *Egress) Alert(ctx context.Context, message string) error {
	return e.post(ctx, types.TagAlert, message, nil)
}

func (e *Egress) post(ctx context.Context, tag types.EventTag, message string, attrs interface{}) error {
	wire := logicalEventWire{
		Message:       message,
		ProcessType:   types.ProcessTypePipeline,
		ProcessStatus: string(tag),
		EventType:     types.EventType,
		Timestamp:     e.now(),
		Attributes:    attrs,
	}

	if err := e.client.PostEvent(ctx, "/", wire); err != nil {
		return fmt.Errorf("run: post %s event: %w", tag, err)
	}
	return nil
}
