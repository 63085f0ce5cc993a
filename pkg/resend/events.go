package resend

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ContactEventType enumerates Resend webhook event types related to contacts.
// It corresponds to the `type` field in contact webhook payloads.
type ContactEventType string

const (
	EventContactCreated ContactEventType = "contact.created"
	EventContactUpdated ContactEventType = "contact.updated"
	EventContactDeleted ContactEventType = "contact.deleted"
)

// contactEventTypes lists every contact event type currently supported.
var contactEventTypes = []ContactEventType{
	EventContactCreated,
	EventContactUpdated,
	EventContactDeleted,
}

// IsContactEvent returns true if the given event type is supported.
func IsContactEvent(et ContactEventType) bool {
	return slices.Contains(contactEventTypes, et)
}

// ContactEventData is the contact snapshot carried in the `data` block of
// contact webhook payloads.
type ContactEventData struct {
	AudienceID   AudienceID `json:"audience_id"`
	ID           ContactID  `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Unsubscribed bool       `json:"unsubscribed"`
	CreatedAt    ResendTime `json:"created_at"`
	UpdatedAt    ResendTime `json:"updated_at"`
}

// ContactEvent is a decoded contact webhook payload: the envelope fields plus
// the contact snapshot.
type ContactEvent struct {
	Type      ContactEventType
	CreatedAt ResendTime
	Contact   ContactEventData
}

// contactEventEnvelope is the top-level structure sent by Resend contact webhooks.
type contactEventEnvelope struct {
	Type      ContactEventType `json:"type"`
	CreatedAt ResendTime       `json:"created_at"`
	RawData   json.RawMessage  `json:"data"`
}

// ParseContactEvent decodes a Resend contact webhook payload. It validates
// the event type and populates the contact snapshot.
func ParseContactEvent(body []byte) (*ContactEvent, error) {
	var env contactEventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact event envelope: %w", err)
	}

	if !IsContactEvent(env.Type) {
		return nil, fmt.Errorf("unsupported contact event type: %s", env.Type)
	}

	var data ContactEventData
	if err := json.Unmarshal(env.RawData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact event data: %w", err)
	}

	return &ContactEvent{
		Type:      env.Type,
		CreatedAt: env.CreatedAt,
		Contact:   data,
	}, nil
}
