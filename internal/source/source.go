// Package source defines the contract between the ingestion engine and the
// upstream conversation feed. Implementations wrap a concrete wire client
// (see the telegram subpackage); the engine only depends on the interfaces
// and types declared here.
package source

import (
	"context"
	"fmt"
	"time"
)

// Message is a single message pulled from the feed. MessageID is assigned by
// the provider and increases monotonically within a chat, but ids are not
// necessarily contiguous (deleted or service messages leave gaps).
type Message struct {
	ChatID    int64
	MessageID int64
	Timestamp time.Time

	// EditTimestamp is nil until the message has been edited. An edit only
	// replaces Text/URLs/EditTimestamp; everything else is immutable.
	EditTimestamp *time.Time

	FromUserID   *int64
	FromUsername *string
	IsForwarded  bool
	ForwardFrom  *string

	Text      string
	URLs      []string
	ReplyToID *int64
}

// LatestMark is the id/timestamp of the newest message currently available
// from the feed, used to fix the backfill boundary at engine start.
type LatestMark struct {
	MessageID int64
	Timestamp time.Time
}

// NewMessageHandler is invoked for every live message delivered by a
// subscription. Handlers must be safe for concurrent invocation.
type NewMessageHandler func(ctx context.Context, msg Message)

// Source is the feed client the ingestion engine consumes.
//
// FetchRange returns messages with id in (minIDExclusive, maxIDInclusive],
// ascending by id, at most limit entries. FetchTimeRange returns messages
// with timestamp in [start, end), ascending. FetchByID returns (nil, nil)
// when the message no longer exists.
//
// Any call may fail with a *RateLimitedError carrying the provider's
// suggested wait; callers are expected to sleep and retry.
type Source interface {
	GetLatest(ctx context.Context) (LatestMark, error)
	FetchRange(ctx context.Context, minIDExclusive, maxIDInclusive int64, limit int) ([]Message, error)
	FetchTimeRange(ctx context.Context, start, end time.Time, limit int) ([]Message, error)
	FetchByID(ctx context.Context, id int64) (*Message, error)

	// Subscribe registers live callbacks for new and edited messages. It must
	// be called before Listen; registering twice replaces the handlers.
	Subscribe(onNew, onEdit NewMessageHandler)

	// Listen blocks delivering subscription callbacks until ctx is cancelled.
	Listen(ctx context.Context) error
}

// RateLimitedError reports that the provider throttled a call and suggested
// how long to wait before retrying. It corresponds to Telegram's FLOOD_WAIT.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
}
