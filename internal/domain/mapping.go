package domain

import "time"

// ConversationMapping links an edna conversation (client phone / subject) to
// an amoCRM chat.
type ConversationMapping struct {
	ClientConversationID string    `json:"clientConversationId"`
	CRMConversationID    string    `json:"crmConversationId"`
	AccountSubdomain     string    `json:"accountSubdomain,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// KeyFor returns the mapping's conversation id in the given platform's namespace.
func (m ConversationMapping) KeyFor(p Platform) string {
	if p == PlatformEdna {
		return m.ClientConversationID
	}
	return m.CRMConversationID
}

// MessageLink records where a routed message landed on the target platform.
type MessageLink struct {
	SourcePlatform       Platform  `json:"sourcePlatform"`
	SourceMessageID      string    `json:"sourceMessageId"`
	TargetPlatform       Platform  `json:"targetPlatform"`
	TargetMessageID      string    `json:"targetMessageId"`
	TargetConversationID string    `json:"targetConversationId"`
	CreatedAt            time.Time `json:"createdAt"`
}
