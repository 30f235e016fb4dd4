package teams

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// excerptLen bounds message bodies in the human-readable view. JSON output
// carries the full text.
const excerptLen = 200

// mentionJSON matches the structured-output contract consumed by the
// dashboard relay and downstream tooling.
type mentionJSON struct {
	Timestamp   string `json:"timestamp"`
	Channel     string `json:"channel"`
	User        string `json:"user"`
	Text        string `json:"text"`
	IsRead      bool   `json:"is_read"`
	MentionType string `json:"mention_type"`
}

// WriteJSON emits the mention list as a JSON array in report order.
func (r *Report) WriteJSON(w io.Writer) error {
	out := make([]mentionJSON, 0, len(r.Mentions))
	for _, m := range r.Mentions {
		out = append(out, mentionJSON{
			Timestamp:   m.Timestamp.Format(time.RFC3339),
			Channel:     m.ThreadID,
			User:        m.Sender,
			Text:        m.PlainText,
			IsRead:      m.IsRead,
			MentionType: m.Category,
		})
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// WriteHuman emits the grouped, truncated summary view.
func (r *Report) WriteHuman(w io.Writer) error {
	var window string
	if r.AllMentions {
		window = "all time"
	} else {
		window = fmt.Sprintf("last %g hour(s)", r.LookbackHours)
	}
	if _, err := fmt.Fprintf(w, "Found %d mention(s) in %s\n", len(r.Mentions), window); err != nil {
		return err
	}
	fmt.Fprintf(w, "Scanned %d message thread(s)\n", r.Summary.ThreadsScanned)
	if r.Summary.SkippedRecords > 0 || r.Summary.SkippedSegments > 0 {
		fmt.Fprintf(w, "Skipped %d record(s) and %d segment(s); results may be incomplete\n",
			r.Summary.SkippedRecords, r.Summary.SkippedSegments)
	}
	fmt.Fprintln(w)

	for i, m := range r.Mentions {
		status := "unread"
		if m.IsRead {
			status = "read"
		}
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, status, m.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "   From: %s\n", m.Sender)
		fmt.Fprintf(w, "   Type: %s\n", m.Category)
		if m.ThreadTopic != "" {
			fmt.Fprintf(w, "   Thread: %s (%s)\n", m.ThreadTopic, m.ThreadID)
		} else {
			fmt.Fprintf(w, "   Thread: %s\n", m.ThreadID)
		}
		fmt.Fprintf(w, "   Message: %s\n\n", excerpt(m.PlainText))
	}
	return nil
}

func excerpt(text string) string {
	if text == "" {
		return "(message content not recovered)"
	}
	runes := []rune(text)
	if len(runes) <= excerptLen {
		return text
	}
	return string(runes[:excerptLen]) + "…"
}
