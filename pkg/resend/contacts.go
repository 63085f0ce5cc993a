package resend

import (
	"context"
	"fmt"
	"net/http"
)

// ContactID is the identifier Resend assigns to a contact at creation time.
type ContactID string

// AudienceID identifies the audience a contact belongs to.
type AudienceID string

// ContactData is the payload for creating a contact. Optional fields that
// were never set are omitted from the serialized request entirely, they are
// not sent as null.
type ContactData struct {
	// Email address of the contact.
	Email string `json:"email"`
	// First name of the contact.
	FirstName *string `json:"first_name,omitempty"`
	// Last name of the contact.
	LastName *string `json:"last_name,omitempty"`
	// Indicates if the contact is unsubscribed.
	Unsubscribed *bool `json:"unsubscribed,omitempty"`
}

// NewContactData returns a ContactData with only the required email set.
func NewContactData(email string) ContactData {
	return ContactData{Email: email}
}

// WithFirstName returns a copy of the data with the first name set.
func (d ContactData) WithFirstName(name string) ContactData {
	d.FirstName = &name
	return d
}

// WithLastName returns a copy of the data with the last name set.
func (d ContactData) WithLastName(name string) ContactData {
	d.LastName = &name
	return d
}

// WithUnsubscribed returns a copy of the data with the subscription flag set.
func (d ContactData) WithUnsubscribed(unsubscribed bool) ContactData {
	d.Unsubscribed = &unsubscribed
	return d
}

// ContactChanges describes a partial update to an existing contact. The zero
// value requests no changes; fields left unset are omitted from the request
// body so the server leaves them untouched.
type ContactChanges struct {
	// Email address of the contact.
	Email *string `json:"email,omitempty"`
	// First name of the contact.
	FirstName *string `json:"first_name,omitempty"`
	// Last name of the contact.
	LastName *string `json:"last_name,omitempty"`
	// Indicates the subscription status of the contact.
	Unsubscribed *bool `json:"unsubscribed,omitempty"`
}

// NewContactChanges returns an empty change set.
func NewContactChanges() ContactChanges {
	return ContactChanges{}
}

// WithEmail returns a copy of the changes with a new email address.
func (ch ContactChanges) WithEmail(email string) ContactChanges {
	ch.Email = &email
	return ch
}

// WithFirstName returns a copy of the changes with a new first name.
func (ch ContactChanges) WithFirstName(name string) ContactChanges {
	ch.FirstName = &name
	return ch
}

// WithLastName returns a copy of the changes with a new last name.
func (ch ContactChanges) WithLastName(name string) ContactChanges {
	ch.LastName = &name
	return ch
}

// WithUnsubscribed returns a copy of the changes with a new subscription status.
func (ch ContactChanges) WithUnsubscribed(unsubscribed bool) ContactChanges {
	ch.Unsubscribed = &unsubscribed
	return ch
}

// Contact is the server-authoritative state of a contact at fetch time.
type Contact struct {
	// Unique identifier for the contact.
	ID ContactID `json:"id"`
	// Email address of the contact.
	Email string `json:"email"`
	// First name of the contact.
	FirstName string `json:"first_name"`
	// Last name of the contact.
	LastName string `json:"last_name"`
	// Indicates if the contact is unsubscribed.
	Unsubscribed bool `json:"unsubscribed"`
	// Timestamp indicating when the contact was created, in ISO 8601 format.
	CreatedAt string `json:"created_at"`
}

type createContactResponse struct {
	ID ContactID `json:"id"`
}

type updateContactResponse struct {
	ID ContactID `json:"id"`
}

type listContactsResponse struct {
	Data []Contact `json:"data"`
}

// CreateContact creates a contact inside an audience and returns the id
// assigned by Resend.
//
// API: POST /audiences/{audience_id}/contacts
//
// Idempotency: Not idempotent
//
// Errors:
//   - 409 Conflict: If a contact with the same email already exists in the audience.
//   - 422 Unprocessable Entity: If the request payload is invalid.
func (c *Client) CreateContact(ctx context.Context, audience AudienceID, contact ContactData) (ContactID, error) {
	path := fmt.Sprintf("/audiences/%s/contacts", audience)

	var resp createContactResponse
	if err := c.sendRequest(ctx, http.MethodPost, path, contact, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetContact retrieves a single contact from an audience.
//
// API: GET /audiences/{audience_id}/contacts/{contact_id}
//
// Errors:
//   - 404 Not Found: If the contact does not exist in the audience.
func (c *Client) GetContact(ctx context.Context, contact ContactID, audience AudienceID) (*Contact, error) {
	path := fmt.Sprintf("/audiences/%s/contacts/%s", audience, contact)

	var resp Contact
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateContact applies changes to an existing contact. The response carries
// the updated contact id; it is decoded to confirm the success shape and then
// discarded, so only success or failure is surfaced.
//
// API: PATCH /audiences/{audience_id}/contacts/{contact_id}
//
// Idempotency: Idempotent
//
// Errors:
//   - 404 Not Found: If the contact does not exist in the audience.
//   - 422 Unprocessable Entity: If the request payload is invalid.
func (c *Client) UpdateContact(ctx context.Context, contact ContactID, audience AudienceID, changes ContactChanges) error {
	path := fmt.Sprintf("/audiences/%s/contacts/%s", audience, contact)

	var resp updateContactResponse
	return c.sendRequest(ctx, http.MethodPatch, path, changes, &resp)
}

// DeleteContact removes a contact from an audience. The emailOrID path
// segment accepts either the contact id or the contact's email address;
// Resend resolves whichever form is supplied.
//
// API: DELETE /audiences/{audience_id}/contacts/{email_or_id}
//
// Idempotency: Not idempotent
//
// Errors:
//   - 404 Not Found: If no contact matches the given id or email.
func (c *Client) DeleteContact(ctx context.Context, audience AudienceID, emailOrID string) error {
	path := fmt.Sprintf("/audiences/%s/contacts/%s", audience, emailOrID)

	return c.sendRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ListContacts retrieves all contacts in an audience, in the order Resend
// returns them. An audience with no contacts yields an empty slice, not an
// error.
//
// API: GET /audiences/{audience_id}/contacts
//
// Errors:
//   - 404 Not Found: If the audience does not exist.
func (c *Client) ListContacts(ctx context.Context, audience AudienceID) ([]Contact, error) {
	path := fmt.Sprintf("/audiences/%s/contacts", audience)

	var resp listContactsResponse
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []Contact{}
	}
	return resp.Data, nil
}
