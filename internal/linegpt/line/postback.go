package line

import "net/url"

// Postback answers for the yes/no quick reply buttons.
const (
	PostbackYesText = "YES is selected."
	PostbackNoText  = "NO is selected."
)

// PostbackReply returns the text answering a quick reply postback such as
// "action=quick_reply&action_type=yes". Any quick reply whose action_type is
// not "yes", including a missing one, is answered as "no". ok is false when
// the action is not quick_reply.
func PostbackReply(data string) (text string, ok bool) {
	values, err := url.ParseQuery(data)
	if err != nil || values.Get("action") != "quick_reply" {
		return "", false
	}
	if values.Get("action_type") == "yes" {
		return PostbackYesText, true
	}
	return PostbackNoText, true
}
