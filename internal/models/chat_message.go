package models

import "strings"

// ChatMessage is one transcript entry. Messages carry no identifier: equality is
// positional within the transcript.
type ChatMessage struct {
	SenderFirstName string `json:"firstName"`
	SenderLastName  string `json:"lastName"`
	Text            string `json:"text"`
}

// IsOwn reports whether the message was sent by the local user.
// Attribution compares first names because the receive payload carries no sender id;
// two users sharing a first name are indistinguishable here.
func (m ChatMessage) IsOwn(local LocalUser) bool {
	return m.SenderFirstName != "" && m.SenderFirstName == local.FirstName
}

// SenderName joins the sender's names, skipping empty parts.
func (m ChatMessage) SenderName() string {
	return strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName)
}

// OutgoingChatMessage is what the local user submits for delivery.
type OutgoingChatMessage struct {
	SenderID        string
	SenderFirstName string
	SenderLastName  string
	CounterpartID   string
	Text            string
}

// NewOutgoingChatMessage builds an outgoing message for the given conversation.
func NewOutgoingChatMessage(local LocalUser, identity ConversationIdentity, text string) OutgoingChatMessage {
	return OutgoingChatMessage{
		SenderID:        local.ID,
		SenderFirstName: local.FirstName,
		SenderLastName:  local.LastName,
		CounterpartID:   identity.CounterpartUserID,
		Text:            text,
	}
}
