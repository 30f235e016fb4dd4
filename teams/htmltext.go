package teams

import (
	"strings"

	"golang.org/x/net/html"
)

const mentionItemType = "http://schema.skype.com/Mention"

// ExtractText strips a Teams HTML message body down to plain text: tags
// removed, entities decoded, whitespace collapsed to single spaces. Mention
// spans keep an "@" prefix so mentions stay recognizable in the flat text.
func ExtractText(content string) string {
	if content == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(content))
	var chunks []string
	mentionDepth := 0
	skipDepth := 0 // inside script/style

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			return strings.Join(chunks, " ")
		case html.StartTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "script", "style":
				skipDepth++
			case "span":
				for _, attr := range token.Attr {
					if attr.Key == "itemtype" && attr.Val == mentionItemType {
						mentionDepth++
						break
					}
				}
			}
		case html.EndTagToken:
			token := tokenizer.Token()
			switch token.Data {
			case "script", "style":
				if skipDepth > 0 {
					skipDepth--
				}
			case "span":
				if mentionDepth > 0 {
					mentionDepth--
				}
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.Join(strings.Fields(tokenizer.Token().Data), " ")
			if text == "" {
				continue
			}
			if mentionDepth > 0 && !strings.HasPrefix(text, "@") {
				text = "@" + text
			}
			chunks = append(chunks, text)
		}
	}
}
