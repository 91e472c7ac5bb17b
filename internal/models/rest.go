package models

import (
	"bytes"
	"encoding/json"
)

// HistoryResponse is the body of GET /chat/{counterpartId}.
type HistoryResponse struct {
	Messages []HistoryRecord `json:"messages"`
}

// HistoryRecord is one stored message with its sender association.
type HistoryRecord struct {
	SenderID SenderRef `json:"senderId"`
	Text     string    `json:"text"`
}

// ChatMessage flattens the record. A missing sender yields empty names.
func (r HistoryRecord) ChatMessage() ChatMessage {
	msg := ChatMessage{Text: r.Text}
	if r.SenderID.Profile != nil {
		msg.SenderFirstName = r.SenderID.Profile.FirstName
		msg.SenderLastName = r.SenderID.Profile.LastName
	}
	return msg
}

// SenderRef is the record's sender association. The backend populates it with
// the sender's profile, but it can also be null or a bare, unpopulated id.
type SenderRef struct {
	Profile *SenderProfile
	ID      string
}

// SenderProfile is the populated subset of the sender.
type SenderProfile struct {
	ID        string `json:"_id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UnmarshalJSON accepts an object, a string id, or null.
func (s *SenderRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = SenderRef{}
		return nil
	case data[0] == '"':
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = SenderRef{ID: id}
		return nil
	}

	var p SenderProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = SenderRef{Profile: &p, ID: p.ID}
	return nil
}

// MarshalJSON writes the populated profile, the bare id, or null.
func (s SenderRef) MarshalJSON() ([]byte, error) {
	if s.Profile != nil {
		return json.Marshal(s.Profile)
	}
	if s.ID != "" {
		return json.Marshal(s.ID)
	}
	return []byte("null"), nil
}

// UserResponse is the body of GET /user/{counterpartId}.
type UserResponse struct {
	User *CounterpartProfile `json:"user"`
}

// ConnectionsResponse is the body of GET /user/connections.
type ConnectionsResponse struct {
	User []CounterpartProfile `json:"user"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	EmailID  string `json:"emailId"`
	Password string `json:"password"`
}

// LoginResponse covers both shapes the login endpoint answers with: the user
// wrapped in "data", or the user object itself.
type LoginResponse struct {
	Data *LocalUser `json:"data"`
	LocalUser
}

// User returns whichever shape was present.
func (r LoginResponse) User() LocalUser {
	if r.Data != nil {
		return *r.Data
	}
	return r.LocalUser
}
