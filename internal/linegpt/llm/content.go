package llm

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EmptyResponseMessage is stored when a provider answered without text.
const EmptyResponseMessage = "empty response"

// ErrorBody returns the response body recorded for a failed call:
// {"error_message": message}.
func ErrorBody(message string) string {
	body, err := sjson.Set("{}", "error_message", message)
	if err != nil {
		// sjson only fails on malformed paths; the path here is constant.
		return `{"error_message":""}`
	}
	return body
}

// ResponseText returns the text to show the user for a stored response body:
// the error message of a failed call, else the reply content. "" when there
// is neither.
func ResponseText(body string) string {
	if msg := gjson.Get(body, "error_message"); msg.Exists() && msg.String() != "" {
		return msg.String()
	}
	text, _ := ReplyContent(body)
	return text
}

// ReplyContent extracts the model's reply from a raw OpenAI or Anthropic
// payload. ok is false for error bodies and payloads without text.
func ReplyContent(body string) (text string, ok bool) {
	if !gjson.Valid(body) {
		return "", false
	}
	if gjson.Get(body, "error_message").Exists() {
		return "", false
	}
	if c := gjson.Get(body, "choices.0.message.content"); c.Exists() && c.String() != "" {
		return c.String(), true
	}
	var sb strings.Builder
	for _, t := range gjson.Get(body, `content.#(type=="text")#.text`).Array() {
		sb.WriteString(t.String())
	}
	if sb.Len() > 0 {
		return sb.String(), true
	}
	return "", false
}
