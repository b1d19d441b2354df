package entity

import (
	"context"
	"time"
)

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

type Subscriber interface {
	JetstreamEventSubscribe(ctx context.Context) error
}

// RefreshRequestEvent asks a refresh worker to refresh one symbol, or every
// asset when Symbol is empty.
type RefreshRequestEvent struct {
	RetryCount  int       `json:"retry"`
	RequestID   string    `json:"request_id"`
	Symbol      string    `json:"symbol,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
