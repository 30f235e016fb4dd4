// Package teams interprets Chromium IndexedDB records from the Microsoft
// Teams v2 client cache and reconciles mention activities with message
// content.
package teams

import "time"

// StoreIDs are the logical database ids the Teams client uses for the three
// object stores this tool reads. They drift across client versions, so they
// are configurable.
type StoreIDs struct {
	Activities    int
	ReplyChains   int
	Conversations int
}

// DefaultStoreIDs matches current Teams v2 desktop builds.
func DefaultStoreIDs() StoreIDs {
	return StoreIDs{Activities: 25, ReplyChains: 15, Conversations: 14}
}

// MentionActivity is one retained record from the activities store. Only
// mention-typed activities survive extraction.
type MentionActivity struct {
	ActivityID      string
	ActivitySubtype string
	SourceThreadID  string
	SourceMessageID string
	Timestamp       time.Time
	IsRead          bool
}

// MessageRecord is one message from the reply-chain store.
type MessageRecord struct {
	MessageID   string
	CreatorID   string
	DisplayName string
	ContentHTML string
	ArrivalTime time.Time
}

// ChainKey identifies one reply chain within one conversation.
type ChainKey struct {
	ConversationID string
	ReplyChainID   string
}

// ConversationMeta enriches thread ids with human-readable context. Not
// required for correctness; mentions render with the raw thread id when the
// conversations store yields nothing.
type ConversationMeta struct {
	ThreadID string
	Topic    string
	Members  []string
}

// Mention is the reconciled, user-facing record.
type Mention struct {
	Timestamp   time.Time
	ThreadID    string
	ThreadTopic string
	Sender      string
	SenderID    string
	Category    string
	PlainText   string
	IsRead      bool
}

// Summary carries the run counters surfaced to the user. Non-zero skip
// counts still mean a successful run; results may just be incomplete.
type Summary struct {
	Mentions        int
	ThreadsScanned  int
	SkippedRecords  int
	SkippedSegments int
}

// Report is the single output unit of one pipeline run: an order-stable
// mention list plus its summary. Both output modes project this same data.
type Report struct {
	Mentions      []Mention
	Summary       Summary
	LookbackHours float64
	AllMentions   bool
	GeneratedAt   time.Time
}
