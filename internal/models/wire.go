package models

// Realtime event names. These must match the backend's socket handlers exactly.
const (
	EventJoinChat        = "joinChat"
	EventSendMessage     = "sendMessage"
	EventMessageReceived = "messageReceived"
)

// JoinChatPayload announces the local user in the conversation room.
type JoinChatPayload struct {
	FirstName    string `json:"firstName"`
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
}

// NewJoinChatPayload builds the join declaration for identity.
func NewJoinChatPayload(identity ConversationIdentity, displayName string) JoinChatPayload {
	return JoinChatPayload{
		FirstName:    displayName,
		UserID:       identity.LocalUserID,
		TargetUserID: identity.CounterpartUserID,
	}
}

// SendMessagePayload is the outbound message event body.
type SendMessagePayload struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
	Text         string `json:"text"`
}

// NewSendMessagePayload maps an outgoing message to its wire shape.
func NewSendMessagePayload(msg OutgoingChatMessage) SendMessagePayload {
	return SendMessagePayload{
		FirstName:    msg.SenderFirstName,
		LastName:     msg.SenderLastName,
		UserID:       msg.SenderID,
		TargetUserID: msg.CounterpartID,
		Text:         msg.Text,
	}
}

// MessageReceivedPayload is the inbound message event body.
type MessageReceivedPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Text      string `json:"text"`
}

// ChatMessage converts the payload into a transcript entry.
func (p MessageReceivedPayload) ChatMessage() ChatMessage {
	return ChatMessage{
		SenderFirstName: p.FirstName,
		SenderLastName:  p.LastName,
		Text:            p.Text,
	}
}
