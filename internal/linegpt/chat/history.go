package chat

import (
	"encoding/json"
	"fmt"
)

// HistoryFromExchange rebuilds the conversation history from the previous
// exchange: the message list that was sent, followed by the assistant reply
// when there was one. The system entry of the stored request is kept; request
// assembly stops at it.
func HistoryFromExchange(requestBody, assistantReply string) ([]HistoryEntry, error) {
	var history []HistoryEntry
	if requestBody != "" {
		if err := json.Unmarshal([]byte(requestBody), &history); err != nil {
			return nil, fmt.Errorf("chat: decode stored request: %w", err)
		}
	}
	if assistantReply != "" {
		history = append(history, HistoryEntry{Role: string(RoleAssistant), Content: assistantReply})
	}
	return history, nil
}
