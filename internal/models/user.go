package models

import "strings"

// PlaceholderTitle is shown instead of the counterpart's name until (or unless)
// the profile is available.
const PlaceholderTitle = "Chat"

// LocalUser is the logged-in user as returned by the backend login endpoint.
type LocalUser struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName is the name announced when joining a conversation room.
func (u LocalUser) DisplayName() string {
	return u.FirstName
}

// CounterpartProfile is the other participant's read-only profile metadata.
type CounterpartProfile struct {
	UserID    string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName joins first and last name.
func (p CounterpartProfile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Title returns the conversation header for p, or PlaceholderTitle when p is nil
// or carries no name.
func Title(p *CounterpartProfile) string {
	if p == nil {
		return PlaceholderTitle
	}
	if name := p.FullName(); name != "" {
		return name
	}
	return PlaceholderTitle
}
