package llm

import (
	"fmt"
	"strings"
)

// TextOf extracts reply text from the shapes a completion can arrive in: a
// plain string, a Message or ChatResponse, or a decoded JSON mapping with a
// "content" or "text" key. Unknown shapes fall back to their fmt form.
func TextOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case Message:
		return x.Content
	case *Message:
		if x == nil {
			return ""
		}
		return x.Content
	case *ChatResponse:
		if x == nil {
			return ""
		}
		return x.Message.Content
	case map[string]any:
		for _, key := range []string{"content", "text"} {
			if s, ok := x[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	case map[string]string:
		if s := x["content"]; s != "" {
			return s
		}
		return x["text"]
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// JoinContents concatenates message contents separated by blank lines.
func JoinContents(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}
