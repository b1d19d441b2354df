package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	perrors "github.com/jmgilman/go/errors"
	"github.com/krobus00/crypto-catalog-service/internal/constant"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/krobus00/crypto-catalog-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	defaultEventTimeout    = 10 * time.Minute
	defaultEventMaxRetries = 5
)

var ErrAsyncRefreshDisabled = perrors.New(perrors.CodeUnavailable, "async refresh is not configured")

func (s *RefreshService) JetstreamEventInit(ctx context.Context) error {
	if s.js == nil {
		return ErrAsyncRefreshDisabled
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.AssetRefreshStreamName,
		Subjects:  []string{constant.AssetRefreshStreamSubjectAll},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.AssetRefreshStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.AssetRefreshStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.AssetRefreshStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

func (s *RefreshService) JetstreamEventSubscribe(ctx context.Context) error {
	err := s.JetstreamEventInit(ctx)
	if err != nil {
		return err
	}

	_, err = s.js.QueueSubscribe(
		constant.AssetRefreshStreamSubjectRequest,
		constant.AssetRefreshQueueName,
		func(msg *nats.Msg) {
			err := util.ProcessWithTimeout(ctx, s.eventTimeout, msg, s.handleRefreshRequestEvent)
			if err != nil {
				logrus.Errorf("error processing message: %v", err)
				return
			}

			err = msg.Ack()
			if err != nil {
				logrus.Errorf("failed to acknowledge message: %v", err)
				return
			}
		},
		nats.ManualAck(),
		nats.Durable(constant.AssetRefreshQueueGroup),
	)
	if err != nil {
		return err
	}

	logrus.Infof("subscribed to %s", constant.AssetRefreshStreamSubjectRequest)

	return nil
}

// RequestRefresh queues a refresh of symbol, or of every asset when symbol is
// empty, and returns the request id.
func (s *RefreshService) RequestRefresh(ctx context.Context, symbol string) (string, error) {
	if s.js == nil {
		return "", ErrAsyncRefreshDisabled
	}

	event := entity.RefreshRequestEvent{
		RequestID:   uuid.NewString(),
		Symbol:      entity.NormalizeSymbol(symbol),
		RequestedAt: time.Now().UTC(),
	}

	err := util.PublishEvent(ctx, s.js, constant.AssetRefreshStreamSubjectRequest, event)
	if err != nil {
		return "", perrors.WrapWithContext(err, perrors.CodeUnavailable, "failed to publish refresh request", map[string]interface{}{
			"symbol": event.Symbol,
		})
	}

	return event.RequestID, nil
}

func (s *RefreshService) handleRefreshRequestEvent(ctx context.Context, msg *nats.Msg) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"req": string(msg.Data),
	})

	var req *entity.RefreshRequestEvent
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		logger.Error(err)
		// a malformed payload never becomes valid, ack it
		return nil
	}
	if req == nil {
		return nil
	}

	defer func() {
		if err == nil || !perrors.IsRetryable(err) {
			return
		}

		logger.Error(err)
		req.RetryCount++
		if req.RetryCount >= s.maxRetries {
			logger.Warn("refresh request dropped after max retries")
			err = nil
			return
		}
		if s.js == nil {
			return
		}

		pubErr := util.PublishEvent(ctx, s.js, constant.AssetRefreshStreamSubjectRequest, req)
		if pubErr != nil {
			logger.Error(pubErr)
			return
		}

		// the retry is queued, ack the original
		err = nil
	}()

	if req.Symbol == "" {
		_, err = s.TriggerRefreshAll(ctx)
		if errors.Is(err, entity.ErrRefreshInProgress) {
			logger.Info("manual refresh already running, request coalesced")
			return nil
		}
		return err
	}

	_, err = s.RefreshOne(ctx, req.Symbol)
	if err != nil && !perrors.IsRetryable(err) {
		logger.WithError(err).Warn("refresh request failed permanently")
		return nil
	}

	return err
}
