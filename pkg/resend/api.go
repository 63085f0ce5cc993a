package resend

import "context"

// API defines the interface for the Resend SDK.
type API interface {
	// CreateContact creates a contact inside an audience and returns its id.
	CreateContact(ctx context.Context, audience AudienceID, contact ContactData) (ContactID, error)

	// GetContact retrieves a single contact from an audience.
	GetContact(ctx context.Context, contact ContactID, audience AudienceID) (*Contact, error)

	// UpdateContact applies changes to an existing contact.
	UpdateContact(ctx context.Context, contact ContactID, audience AudienceID, changes ContactChanges) error

	// DeleteContact removes a contact from an audience by id or email.
	DeleteContact(ctx context.Context, audience AudienceID, emailOrID string) error

	// ListContacts retrieves all contacts in an audience.
	ListContacts(ctx context.Context, audience AudienceID) ([]Contact, error)

	// CreateAudience creates a new audience and returns its id.
	CreateAudience(ctx context.Context, name string) (AudienceID, error)

	// GetAudience retrieves a single audience.
	GetAudience(ctx context.Context, audience AudienceID) (*Audience, error)

	// DeleteAudience removes an audience and all contacts inside it.
	DeleteAudience(ctx context.Context, audience AudienceID) error

	// ListAudiences retrieves all audiences.
	ListAudiences(ctx context.Context) ([]Audience, error)
}
