package util

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	perrors "github.com/jmgilman/go/errors"
	"github.com/nats-io/nats.go"
)

// ProcessWithTimeout runs callback with a context bounded by timeout and by
// parent. The callback keeps running in the background after a timeout but
// its context is already cancelled.
func ProcessWithTimeout(parent context.Context, timeout time.Duration, msg *nats.Msg, callback func(ctx context.Context, msg *nats.Msg) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callback(ctx, msg)
	}()

	select {
	case <-ctx.Done():
		return perrors.WrapWithContext(ctx.Err(), perrors.CodeTimeout, "message processing timed out", map[string]interface{}{
			"subject": msg.Subject,
			"payload": string(msg.Data),
		})
	case err := <-done:
		return err
	}
}

func PublishEvent(ctx context.Context, js nats.JetStreamContext, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return err
	}

	return nil
}
