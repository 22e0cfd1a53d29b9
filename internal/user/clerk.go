package user

import (
	"encoding/json"
	"strings"
)

// ClerkWebhookEvent is the envelope Clerk posts to the user webhook.
type ClerkWebhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

type ClerkEmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type ClerkUserData struct {
	ID                    string              `json:"id"`
	Username              string              `json:"username"`
	FirstName             string              `json:"first_name"`
	LastName              string              `json:"last_name"`
	PrimaryEmailAddressID string              `json:"primary_email_address_id"`
	EmailAddresses        []ClerkEmailAddress `json:"email_addresses"`
}

// PrimaryEmail returns the address flagged primary, falling back to the first one.
func (d *ClerkUserData) PrimaryEmail() string {
	for _, e := range d.EmailAddresses {
		if e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

// DisplayName picks the Clerk username, then the full name, then the email local part.
func (d *ClerkUserData) DisplayName() string {
	if d.Username != "" {
		return d.Username
	}
	if name := strings.TrimSpace(d.FirstName + d.LastName); len(name) >= 3 {
		return name
	}
	local, _, _ := strings.Cut(d.PrimaryEmail(), "@")
	return local
}

// NewCreateUserRequest maps a Clerk user payload onto a CreateUserRequest.
func NewCreateUserRequest(d *ClerkUserData) *CreateUserRequest {
	username := d.DisplayName()
	if len(username) > 30 {
		username = username[:30]
	}
	return &CreateUserRequest{
		ClerkID:  d.ID,
		Email:    d.PrimaryEmail(),
		Username: username,
	}
}
