package teams

import (
	"sort"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/wsaults/comms-assistant/indexeddb"
	"github.com/wsaults/comms-assistant/indexeddb/chromium"
)

// activityTypeMention is the only activity type this tool retains.
// Reactions, replies and the rest are discarded during extraction.
const activityTypeMention = "mention"

// Extraction is the routed, typed view of one database pass.
type Extraction struct {
	Mentions []MentionActivity
	// Chains maps (conversation, reply chain) to its messages sorted by
	// message id ascending.
	Chains map[ChainKey][]MessageRecord
	// ByConversation holds every message of a conversation across chains,
	// sorted by arrival time, for the nearest-timestamp fallback join.
	ByConversation map[string][]MessageRecord
	Conversations  map[string]ConversationMeta
}

// Extract routes decoded records into the three typed collections by their
// logical database id. Records from other databases are ignored.
func Extract(records []*indexeddb.Record, stores StoreIDs) *Extraction {
	ex := &Extraction{
		Chains:         make(map[ChainKey][]MessageRecord),
		ByConversation: make(map[string][]MessageRecord),
		Conversations:  make(map[string]ConversationMeta),
	}
	mentionsByID := make(map[string]MentionActivity)

	for _, rec := range records {
		fields, ok := recordFields(rec)
		if !ok {
			continue
		}
		switch rec.DatabaseID {
		case stores.Activities:
			extractActivity(fields, mentionsByID)
		case stores.ReplyChains:
			extractReplyChain(fields, ex)
		case stores.Conversations:
			extractConversation(fields, ex)
		}
	}

	ex.Mentions = make([]MentionActivity, 0, len(mentionsByID))
	for _, m := range mentionsByID {
		ex.Mentions = append(ex.Mentions, m)
	}
	sort.Slice(ex.Mentions, func(i, j int) bool {
		if !ex.Mentions[i].Timestamp.Equal(ex.Mentions[j].Timestamp) {
			return ex.Mentions[i].Timestamp.Before(ex.Mentions[j].Timestamp)
		}
		return ex.Mentions[i].ActivityID < ex.Mentions[j].ActivityID
	})

	for key := range ex.Chains {
		msgs := ex.Chains[key]
		sort.Slice(msgs, func(i, j int) bool {
			return lessMessageID(msgs[i].MessageID, msgs[j].MessageID)
		})
		ex.Chains[key] = msgs
	}
	for conv := range ex.ByConversation {
		msgs := ex.ByConversation[conv]
		sort.Slice(msgs, func(i, j int) bool {
			return msgs[i].ArrivalTime.Before(msgs[j].ArrivalTime)
		})
		ex.ByConversation[conv] = msgs
	}
	return ex
}

func extractActivity(fields map[string]any, mentionsByID map[string]MentionActivity) {
	if asString(fields["activityType"]) != activityTypeMention {
		return
	}
	activity := MentionActivity{
		ActivityID:      asString(fields["activityId"]),
		ActivitySubtype: asString(fields["activitySubtype"]),
		SourceThreadID:  asString(fields["sourceThreadId"]),
		SourceMessageID: asString(fields["sourceMessageId"]),
		Timestamp:       asTime(fields["timestamp"]),
		IsRead:          asBool(fields["isRead"]),
	}
	if activity.ActivityID == "" {
		zlog.Debug().Msg("dropping mention activity without an id")
		return
	}
	// Superseding writes can leave duplicate activity ids; the newer
	// timestamp wins.
	if existing, ok := mentionsByID[activity.ActivityID]; ok && existing.Timestamp.After(activity.Timestamp) {
		return
	}
	mentionsByID[activity.ActivityID] = activity
}

func extractReplyChain(fields map[string]any, ex *Extraction) {
	convID := asString(fields["conversationId"])
	chainID := asString(fields["replyChainId"])
	msgMap, ok := fields["messageMap"].(map[string]any)
	if convID == "" || chainID == "" || !ok {
		return
	}
	key := ChainKey{ConversationID: convID, ReplyChainID: chainID}
	for _, raw := range msgMap {
		msgFields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		msg := MessageRecord{
			MessageID:   asString(msgFields["id"]),
			CreatorID:   asString(msgFields["creator"]),
			DisplayName: asString(msgFields["imDisplayName"]),
			ContentHTML: asString(msgFields["content"]),
			ArrivalTime: asTime(msgFields["originalArrivalTime"]),
		}
		if msg.MessageID == "" {
			continue
		}
		// Message ids are epoch milliseconds; use them when the arrival
		// time field is missing or unparseable.
		if msg.ArrivalTime.IsZero() {
			msg.ArrivalTime = asTime(msg.MessageID)
		}
		ex.Chains[key] = append(ex.Chains[key], msg)
		ex.ByConversation[convID] = append(ex.ByConversation[convID], msg)
	}
}

func extractConversation(fields map[string]any, ex *Extraction) {
	threadID := asString(fields["id"])
	if threadID == "" {
		threadID = asString(fields["conversationId"])
	}
	if threadID == "" {
		return
	}
	meta := ConversationMeta{ThreadID: threadID}
	if props, ok := fields["threadProperties"].(map[string]any); ok {
		meta.Topic = asString(props["topic"])
	}
	if meta.Topic == "" {
		meta.Topic = asString(fields["displayName"])
	}
	if members, ok := fields["members"].(*chromium.JSArray); ok {
		for _, m := range members.Values {
			if s := asString(m); s != "" {
				meta.Members = append(meta.Members, s)
			}
		}
	}
	ex.Conversations[threadID] = meta
}

// recordFields unwraps an object-store record down to its field map.
func recordFields(rec *indexeddb.Record) (map[string]any, bool) {
	value, ok := rec.Value.(*chromium.ObjectStoreDataValue)
	if !ok || value == nil {
		return nil, false
	}
	fields, ok := value.Value.(map[string]any)
	return fields, ok
}

// asString renders scalar field values as strings; the Teams schemas mix
// string and numeric encodings for ids across client versions.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		return ""
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asTime accepts the timestamp encodings seen in Teams records: epoch
// milliseconds as a number or numeric string, RFC 3339 strings, and decoded
// Date values.
func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case uint64:
		return time.UnixMilli(int64(t)).UTC()
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func lessMessageID(a, b string) bool {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
