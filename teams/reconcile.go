package teams

import (
	"sort"
	"time"
)

// matchTolerance bounds how far back the nearest-timestamp fallback looks
// when a mention has no exact reply-chain match. The correlation between
// the activities and reply-chain stores is best-effort, not a foreign key.
const matchTolerance = 24 * time.Hour

// Reconcile joins each mention activity against zero or one message and
// returns the mentions sorted by timestamp descending. Every retained
// activity appears exactly once in the result; a missing message never
// drops a mention, it only leaves the body empty.
func Reconcile(ex *Extraction) []Mention {
	mentions := make([]Mention, 0, len(ex.Mentions))
	for _, activity := range ex.Mentions {
		mention := Mention{
			Timestamp: activity.Timestamp,
			ThreadID:  activity.SourceThreadID,
			Category:  category(activity.ActivitySubtype),
			IsRead:    activity.IsRead,
			Sender:    "Unknown",
		}
		if meta, ok := ex.Conversations[activity.SourceThreadID]; ok {
			mention.ThreadTopic = meta.Topic
		}
		if msg, ok := matchMessage(ex, activity); ok {
			mention.PlainText = ExtractText(msg.ContentHTML)
			mention.SenderID = msg.CreatorID
			switch {
			case msg.DisplayName != "":
				mention.Sender = msg.DisplayName
			case msg.CreatorID != "":
				mention.Sender = msg.CreatorID
			}
		}
		mentions = append(mentions, mention)
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Timestamp.After(mentions[j].Timestamp)
	})
	return mentions
}

// matchMessage prefers the exact reply-chain hit: the activity's source
// message id doubles as the chain id, and the root message carries the same
// id. Failing that, it falls back to the message in the conversation whose
// arrival time is closest to, and not after, the activity timestamp within
// the tolerance window.
func matchMessage(ex *Extraction, activity MentionActivity) (MessageRecord, bool) {
	key := ChainKey{
		ConversationID: activity.SourceThreadID,
		ReplyChainID:   activity.SourceMessageID,
	}
	if chain, ok := ex.Chains[key]; ok {
		for _, msg := range chain {
			if msg.MessageID == activity.SourceMessageID {
				return msg, true
			}
		}
		if len(chain) > 0 {
			return chain[0], true
		}
	}

	candidates := ex.ByConversation[activity.SourceThreadID]
	best := -1
	for i, msg := range candidates {
		if msg.ArrivalTime.IsZero() || msg.ArrivalTime.After(activity.Timestamp) {
			continue
		}
		if activity.Timestamp.Sub(msg.ArrivalTime) > matchTolerance {
			continue
		}
		if best == -1 || msg.ArrivalTime.After(candidates[best].ArrivalTime) {
			best = i
		}
	}
	if best >= 0 {
		return candidates[best], true
	}
	return MessageRecord{}, false
}

// FilterSince keeps mentions at or after cutoff, preserving order.
func FilterSince(mentions []Mention, cutoff time.Time) []Mention {
	filtered := make([]Mention, 0, len(mentions))
	for _, m := range mentions {
		if !m.Timestamp.Before(cutoff) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func category(subtype string) string {
	switch subtype {
	case "channel", "chat", "group":
		return subtype
	case "":
		return "unknown"
	default:
		return subtype
	}
}
