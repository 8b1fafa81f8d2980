package prompts

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// DefaultAttachmentMaxChars is how much attached documentation is kept.
const DefaultAttachmentMaxChars = 20000

// TruncateAttachment keeps at most max characters (runes) of text and reports
// whether anything was cut. A non-positive max falls back to the default.
func TruncateAttachment(text string, max int) (string, bool) {
	if max <= 0 {
		max = DefaultAttachmentMaxChars
	}
	if len(text) <= max {
		// byte length bounds rune count
		return text, false
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i], true
		}
		n++
	}
	return text, false
}

// TruncationNotice is the message shown to the user when an attachment was cut.
func TruncationNotice(max int) string {
	if max <= 0 {
		max = DefaultAttachmentMaxChars
	}
	return fmt.Sprintf("Attached documentation truncated to %s characters.", humanize.Comma(int64(max)))
}
