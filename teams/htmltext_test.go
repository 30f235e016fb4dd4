package teams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "nested tags collapse to spaced text",
			content: "<p>Hi <b>@General</b> news!</p>",
			want:    "Hi @General news!",
		},
		{
			name:    "mention span gains an at prefix",
			content: `<p>ping <span itemtype="http://schema.skype.com/Mention" itemid="0">General</span> please</p>`,
			want:    "ping @General please",
		},
		{
			name:    "mention span already prefixed keeps one at",
			content: `<span itemtype="http://schema.skype.com/Mention">@Starr</span>`,
			want:    "@Starr",
		},
		{
			name:    "ordinary span is left alone",
			content: `<span class="x">hello</span>`,
			want:    "hello",
		},
		{
			name:    "entities decode",
			content: "<p>fish &amp; chips &lt;3</p>",
			want:    "fish & chips <3",
		},
		{
			name:    "whitespace collapses",
			content: "<p>  a\n\t b   c </p>",
			want:    "a b c",
		},
		{
			name:    "script and style are dropped",
			content: "<style>.x{color:red}</style><p>kept</p><script>alert(1)</script>",
			want:    "kept",
		},
		{
			name:    "plain text passes through",
			content: "no markup here",
			want:    "no markup here",
		},
		{
			name:    "empty input",
			content: "",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.content))
		})
	}
}
