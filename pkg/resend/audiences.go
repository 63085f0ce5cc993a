package resend

import (
	"context"
	"fmt"
	"net/http"
)

// Audience is a named collection of contacts managed by Resend.
type Audience struct {
	// Unique identifier for the audience.
	ID AudienceID `json:"id"`
	// Display name of the audience.
	Name string `json:"name"`
	// Timestamp indicating when the audience was created, in ISO 8601 format.
	CreatedAt string `json:"created_at"`
}

type createAudienceRequest struct {
	Name string `json:"name"`
}

type createAudienceResponse struct {
	ID AudienceID `json:"id"`
}

type listAudiencesResponse struct {
	Data []Audience `json:"data"`
}

// CreateAudience creates a new audience and returns its id.
//
// API: POST /audiences
//
// Errors:
//   - 422 Unprocessable Entity: If the audience name is invalid.
func (c *Client) CreateAudience(ctx context.Context, name string) (AudienceID, error) {
	var resp createAudienceResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/audiences", createAudienceRequest{Name: name}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetAudience retrieves a single audience.
//
// API: GET /audiences/{audience_id}
//
// Errors:
//   - 404 Not Found: If the audience does not exist.
func (c *Client) GetAudience(ctx context.Context, audience AudienceID) (*Audience, error) {
	path := fmt.Sprintf("/audiences/%s", audience)

	var resp Audience
	if err := c.sendRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAudience removes an audience and all contacts inside it.
//
// API: DELETE /audiences/{audience_id}
//
// Errors:
//   - 404 Not Found: If the audience does not exist.
func (c *Client) DeleteAudience(ctx context.Context, audience AudienceID) error {
	path := fmt.Sprintf("/audiences/%s", audience)

	return c.sendRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ListAudiences retrieves all audiences, in the order Resend returns them.
//
// API: GET /audiences
func (c *Client) ListAudiences(ctx context.Context) ([]Audience, error) {
	var resp listAudiencesResponse
	if err := c.sendRequest(ctx, http.MethodGet, "/audiences", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []Audience{}
	}
	return resp.Data, nil
}
