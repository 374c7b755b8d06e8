package telegram

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/nisilag/telegram-analysis-service/internal/source"
)

const historyPageSize = 100

// GetLatest returns the newest message currently in the chat. A zero
// MessageID means the chat is empty.
func (c *Client) GetLatest(ctx context.Context) (source.LatestMark, error) {
	var mark source.LatestMark
	if err := c.waitReady(ctx); err != nil {
		return mark, err
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  c.peer,
		Limit: 1,
	})
	if err != nil {
		return mark, c.mapError(err)
	}
	msgs, users, err := extractMessages(res)
	if err != nil {
		return mark, err
	}
	c.rememberUsers(users)

	for _, raw := range msgs {
		m, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		mark = source.LatestMark{
			MessageID: int64(m.ID),
			Timestamp: time.Unix(int64(m.Date), 0).UTC(),
		}
		break
	}
	return mark, nil
}

// FetchRange returns up to limit messages with id in (minIDExclusive,
// maxIDInclusive], ascending. The window is anchored positionally at the
// lower bound, so id gaps from deleted messages do not stall paging.
func (c *Client) FetchRange(ctx context.Context, minIDExclusive, maxIDInclusive int64, limit int) ([]source.Message, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}

	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      c.peer,
		OffsetID:  int(minIDExclusive),
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(minIDExclusive),
		MaxID:     int(maxIDInclusive + 1),
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	msgs, users, err := extractMessages(res)
	if err != nil {
		return nil, err
	}
	c.rememberUsers(users)

	out := make([]source.Message, 0, len(msgs))
	for _, raw := range msgs {
		m, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		id := int64(m.ID)
		if id <= minIDExclusive || id > maxIDInclusive {
			continue
		}
		out = append(out, c.convert(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchTimeRange returns messages with timestamp in [start, end),
// ascending. A limit of 0 means no cap.
func (c *Client) FetchTimeRange(ctx context.Context, start, end time.Time, limit int) ([]source.Message, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	var out []source.Message
	offsetID := 0
	offsetDate := int(end.Unix())

	for {
		res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:       c.peer,
			OffsetID:   offsetID,
			OffsetDate: offsetDate,
			Limit:      historyPageSize,
		})
		if err != nil {
			return nil, c.mapError(err)
		}
		msgs, users, err := extractMessages(res)
		if err != nil {
			return nil, err
		}
		c.rememberUsers(users)
		if len(msgs) == 0 {
			break
		}

		reachedStart := false
		for _, raw := range msgs {
			m, ok := raw.(*tg.Message)
			if !ok {
				continue
			}
			ts := time.Unix(int64(m.Date), 0).UTC()
			if ts.Before(start) {
				reachedStart = true
				break
			}
			if !ts.Before(end) {
				continue
			}
			out = append(out, c.convert(m))
			if limit > 0 && len(out) >= limit {
				reachedStart = true
				break
			}
		}
		if reachedStart {
			break
		}

		// Page further back from the oldest message seen.
		last, ok := msgs[len(msgs)-1].(*tg.Message)
		if !ok {
			break
		}
		offsetID = last.ID
		offsetDate = 0
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

// FetchByID returns a single message, or (nil, nil) when it no longer
// exists.
func (c *Client) FetchByID(ctx context.Context, id int64) (*source.Message, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: int(id)}}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if ch, ok := c.peer.(*tg.InputPeerChannel); ok {
		res, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      ids,
		})
	} else {
		res, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, c.mapError(err)
	}
	msgs, users, err := extractMessages(res)
	if err != nil {
		return nil, err
	}
	c.rememberUsers(users)

	for _, raw := range msgs {
		m, ok := raw.(*tg.Message)
		if !ok {
			continue // MessageEmpty: deleted upstream
		}
		if int64(m.ID) != id {
			continue
		}
		converted := c.convert(m)
		return &converted, nil
	}
	return nil, nil
}

// mapError translates a FLOOD_WAIT into the rate-limit error the engine
// waits out. The extra second absorbs clock rounding on the server side.
func (c *Client) mapError(err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &source.RateLimitedError{RetryAfter: d + time.Second}
	}
	return err
}

// resolvePeer finds the input peer for the configured chat id. Channels and
// supergroups need an access hash, which is taken from the account's dialog
// list; the account must therefore be a member of the chat.
func (c *Client) resolvePeer(ctx context.Context) (tg.InputPeerClass, error) {
	const channelIDOffset = 1000000000000

	switch {
	case c.cfg.ChatID <= -channelIDOffset:
		channelID := -c.cfg.ChatID - channelIDOffset
		hash, err := c.findChannelAccessHash(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return &tg.InputPeerChannel{ChannelID: channelID, AccessHash: hash}, nil
	case c.cfg.ChatID < 0:
		return &tg.InputPeerChat{ChatID: -c.cfg.ChatID}, nil
	default:
		return nil, fmt.Errorf("chat id %d does not name a group or channel", c.cfg.ChatID)
	}
}

func (c *Client) findChannelAccessHash(ctx context.Context, channelID int64) (int64, error) {
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      historyPageSize,
	})
	if err != nil {
		return 0, c.mapError(err)
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	default:
		return 0, fmt.Errorf("unexpected dialogs result %T", res)
	}

	for _, raw := range chats {
		ch, ok := raw.(*tg.Channel)
		if !ok || ch.ID != channelID {
			continue
		}
		if hash, ok := ch.GetAccessHash(); ok {
			return hash, nil
		}
	}
	return 0, fmt.Errorf("channel %d not found in the account's dialogs", channelID)
}

// extractMessages unwraps the concrete history result variants.
func extractMessages(res tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, error) {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages, m.Users, nil
	case *tg.MessagesMessagesSlice:
		return m.Messages, m.Users, nil
	case *tg.MessagesChannelMessages:
		return m.Messages, m.Users, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unexpected history result %T", res)
	}
}
