package telegram

import (
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"github.com/nisilag/telegram-analysis-service/internal/source"
)

// convert maps a wire message onto the source contract.
func (c *Client) convert(m *tg.Message) source.Message {
	out := source.Message{
		ChatID:    peerChatID(m.PeerID),
		MessageID: int64(m.ID),
		Timestamp: time.Unix(int64(m.Date), 0).UTC(),
		Text:      m.Message,
		URLs:      extractURLs(m.Message, m.Entities),
	}

	if editDate, ok := m.GetEditDate(); ok && editDate != 0 {
		ts := time.Unix(int64(editDate), 0).UTC()
		out.EditTimestamp = &ts
	}

	if from, ok := m.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			id := u.UserID
			out.FromUserID = &id
			out.FromUsername = c.lookupUsername(id)
		}
	}

	if fwd, ok := m.GetFwdFrom(); ok {
		out.IsForwarded = true
		out.ForwardFrom = forwardOrigin(fwd)
	}

	if reply, ok := m.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if replyID, ok := header.GetReplyToMsgID(); ok {
				id := int64(replyID)
				out.ReplyToID = &id
			}
		}
	}

	return out
}

// peerChatID maps an MTProto peer onto the conventional signed chat id:
// channels get the -100 prefix, basic groups are negated, users stay as is.
func peerChatID(peer tg.PeerClass) int64 {
	const channelIDOffset = 1000000000000
	switch p := peer.(type) {
	case *tg.PeerChannel:
		return -channelIDOffset - p.ChannelID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerUser:
		return p.UserID
	default:
		return 0
	}
}

func forwardOrigin(fwd tg.MessageFwdHeader) *string {
	if name, ok := fwd.GetFromName(); ok && name != "" {
		return &name
	}
	if from, ok := fwd.GetFromID(); ok {
		origin := fmt.Sprintf("peer:%d", peerChatID(from))
		return &origin
	}
	return nil
}

// extractURLs collects link targets from the message entities. Entity
// offsets are in UTF-16 code units, so plain-text URL entities are sliced
// on the UTF-16 encoding of the text.
func extractURLs(text string, entities []tg.MessageEntityClass) []string {
	if len(entities) == 0 {
		return nil
	}

	var encoded []uint16
	var urls []string
	for _, raw := range entities {
		switch e := raw.(type) {
		case *tg.MessageEntityTextURL:
			if e.URL != "" {
				urls = append(urls, e.URL)
			}
		case *tg.MessageEntityURL:
			if encoded == nil {
				encoded = utf16.Encode([]rune(text))
			}
			if u := sliceUTF16(encoded, e.Offset, e.Length); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func sliceUTF16(encoded []uint16, offset, length int) string {
	if offset < 0 || length <= 0 || offset+length > len(encoded) {
		return ""
	}
	return string(utf16.Decode(encoded[offset : offset+length]))
}
