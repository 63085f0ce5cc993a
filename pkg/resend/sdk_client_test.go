package resend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNewSDK(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		opts    []ClientOption
		wantErr bool
	}{
		{
			name:    "Valid configuration",
			apiKey:  "test-api-key",
			wantErr: false,
		},
		{
			name:    "Missing API key",
			apiKey:  "",
			wantErr: true,
		},
		{
			name:   "Missing Base URL",
			apiKey: "test-api-key",
			opts: []ClientOption{
				WithBaseURL(""),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSDK(tt.apiKey, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSDK() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == nil {
				t.Error("NewSDK() returned nil client")
			}
		})
	}
}

func TestCreateContact(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences/aud-123/contacts" {
			t.Errorf("Expected path /audiences/aud-123/contacts, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header, got %s", r.Header.Get("Authorization"))
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if req["email"] != "steve.wozniak@gmail.com" {
			t.Errorf("Expected email steve.wozniak@gmail.com, got %v", req["email"])
		}
		if req["first_name"] != "Steve" {
			t.Errorf("Expected first_name Steve, got %v", req["first_name"])
		}
		if _, ok := req["last_name"]; ok {
			t.Error("Expected last_name to be omitted from request body")
		}
		if _, ok := req["unsubscribed"]; ok {
			t.Error("Expected unsubscribed to be omitted from request body")
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"contact","id":"con-479e3145"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	data := NewContactData("steve.wozniak@gmail.com").WithFirstName("Steve")

	id, err := client.CreateContact(context.Background(), "aud-123", data)
	if err != nil {
		t.Fatalf("CreateContact() failed: %v", err)
	}
	if id != "con-479e3145" {
		t.Errorf("CreateContact() expected id con-479e3145, got %s", id)
	}
}

func TestGetContact(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences/aud-123/contacts/con-479e3145" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		body := `{
			"object": "contact",
			"id": "con-479e3145",
			"email": "steve.wozniak@gmail.com",
			"first_name": "Steve",
			"last_name": "Wozniak",
			"unsubscribed": false,
			"created_at": "2023-10-06T23:47:56.678Z"
		}`
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	contact, err := client.GetContact(context.Background(), "con-479e3145", "aud-123")
	if err != nil {
		t.Fatalf("GetContact() failed: %v", err)
	}

	if contact.ID != "con-479e3145" {
		t.Errorf("Expected id con-479e3145, got %s", contact.ID)
	}
	if contact.Email != "steve.wozniak@gmail.com" {
		t.Errorf("Expected email steve.wozniak@gmail.com, got %s", contact.Email)
	}
	if contact.Unsubscribed {
		t.Error("Expected unsubscribed false")
	}
	if contact.CreatedAt == "" {
		t.Error("Expected non-empty created_at")
	}
}

func TestUpdateContact(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences/aud-123/contacts/con-479e3145" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if req["unsubscribed"] != true {
			t.Errorf("Expected unsubscribed true, got %v", req["unsubscribed"])
		}
		if len(req) != 1 {
			t.Errorf("Expected only unsubscribed in request body, got %v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"contact","id":"con-479e3145"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	changes := NewContactChanges().WithUnsubscribed(true)

	if err := client.UpdateContact(context.Background(), "con-479e3145", "aud-123", changes); err != nil {
		t.Fatalf("UpdateContact() failed: %v", err)
	}
}

func TestDeleteContact(t *testing.T) {
	tests := []struct {
		name      string
		emailOrID string
		wantPath  string
	}{
		{
			name:      "By contact id",
			emailOrID: "con-479e3145",
			wantPath:  "/audiences/aud-123/contacts/con-479e3145",
		},
		{
			name:      "By email address",
			emailOrID: "steve.wozniak@gmail.com",
			wantPath:  "/audiences/aud-123/contacts/steve.wozniak@gmail.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("Expected DELETE request, got %s", r.Method)
				}
				if r.URL.Path != tt.wantPath {
					t.Errorf("Expected path %s, got %s", tt.wantPath, r.URL.Path)
				}

				w.Header().Set("Content-Type", "application/json")
				if _, err := w.Write([]byte(`{"object":"contact","deleted":true}`)); err != nil {
					t.Errorf("Failed to write response: %v", err)
				}
			}))
			defer ts.Close()

			client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
			if err := client.DeleteContact(context.Background(), "aud-123", tt.emailOrID); err != nil {
				t.Fatalf("DeleteContact() failed: %v", err)
			}
		})
	}
}

func TestListContacts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences/aud-123/contacts" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		body := `{
			"object": "list",
			"data": [
				{
					"id": "con-1",
					"email": "steve.wozniak@gmail.com",
					"first_name": "Steve",
					"last_name": "Wozniak",
					"unsubscribed": false,
					"created_at": "2023-10-06T23:47:56.678Z"
				},
				{
					"id": "con-2",
					"email": "carlos.vera@gmail.com",
					"first_name": "Carlos",
					"last_name": "Vera",
					"unsubscribed": true,
					"created_at": "2023-10-07T10:12:01.001Z"
				}
			]
		}`
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	contacts, err := client.ListContacts(context.Background(), "aud-123")
	if err != nil {
		t.Fatalf("ListContacts() failed: %v", err)
	}

	if len(contacts) != 2 {
		t.Fatalf("Expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].ID != "con-1" || contacts[1].ID != "con-2" {
		t.Errorf("Contacts returned out of provider order: %v", contacts)
	}
}

func TestListContacts_Empty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"list","data":[]}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	contacts, err := client.ListContacts(context.Background(), "aud-empty")
	if err != nil {
		t.Fatalf("ListContacts() on empty audience should succeed, got: %v", err)
	}
	if contacts == nil || len(contacts) != 0 {
		t.Errorf("Expected empty slice, got %v", contacts)
	}
}

func TestCreateAudience(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if req["name"] != "Registered Users" {
			t.Errorf("Expected name Registered Users, got %v", req["name"])
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"audience","id":"aud-78261eea","name":"Registered Users"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	id, err := client.CreateAudience(context.Background(), "Registered Users")
	if err != nil {
		t.Fatalf("CreateAudience() failed: %v", err)
	}
	if id != "aud-78261eea" {
		t.Errorf("Expected id aud-78261eea, got %s", id)
	}
}

func TestGetAudience(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audiences/aud-78261eea" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		body := `{"object":"audience","id":"aud-78261eea","name":"Registered Users","created_at":"2023-10-06T22:59:55.977Z"}`
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	audience, err := client.GetAudience(context.Background(), "aud-78261eea")
	if err != nil {
		t.Fatalf("GetAudience() failed: %v", err)
	}
	if audience.Name != "Registered Users" {
		t.Errorf("Expected name Registered Users, got %s", audience.Name)
	}
}

func TestDeleteAudience(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE request, got %s", r.Method)
		}
		if r.URL.Path != "/audiences/aud-78261eea" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"object":"audience","id":"aud-78261eea","deleted":true}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	if err := client.DeleteAudience(context.Background(), "aud-78261eea"); err != nil {
		t.Fatalf("DeleteAudience() failed: %v", err)
	}
}

func TestListAudiences(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audiences" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		body := `{"object":"list","data":[{"id":"aud-78261eea","name":"Registered Users","created_at":"2023-10-06T22:59:55.977Z"}]}`
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	audiences, err := client.ListAudiences(context.Background())
	if err != nil {
		t.Fatalf("ListAudiences() failed: %v", err)
	}
	if len(audiences) != 1 || audiences[0].ID != "aud-78261eea" {
		t.Errorf("Unexpected audiences: %v", audiences)
	}
}

func TestClient_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte(`{"statusCode":404,"message":"Contact not found","name":"not_found"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	_, err := client.GetContact(context.Background(), "con-missing", "aud-123")

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("Expected IsNotFound to be true, got error: %v", err)
	}

	// Test IsConflict
	ts409 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		if _, err := w.Write([]byte(`{"statusCode":409,"message":"Contact already exists","name":"conflict"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts409.Close()

	client409, _ := NewSDK("test-key", WithBaseURL(ts409.URL))
	_, err409 := client409.CreateContact(context.Background(), "aud-123", NewContactData("dup@example.com"))
	if err409 == nil || !IsConflict(err409) {
		t.Errorf("Expected IsConflict to be true, got: %v", err409)
	}

	// Test IsUnprocessableEntity / IsInvalidRequest
	ts422 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		if _, err := w.Write([]byte(`{"statusCode":422,"message":"Invalid email","name":"validation_error"}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts422.Close()

	client422, _ := NewSDK("test-key", WithBaseURL(ts422.URL))
	_, err422 := client422.CreateContact(context.Background(), "aud-123", NewContactData("not-an-email"))
	if err422 == nil || !IsUnprocessableEntity(err422) {
		t.Errorf("Expected IsUnprocessableEntity to be true, got: %v", err422)
	}
	if !IsInvalidRequest(err422) {
		t.Errorf("Expected IsInvalidRequest to be true, got: %v", err422)
	}

	// Test Error String
	apiErr := &Error{StatusCode: 418, Body: "I'm a teapot"}
	if apiErr.Error() != "api request failed with status 418: I'm a teapot" {
		t.Errorf("Unexpected error string: %s", apiErr.Error())
	}
}

func TestClient_NetworkErrors(t *testing.T) {
	// Request creation failure: NewRequestWithContext rejects the URL.
	client, _ := NewSDK("test-key", WithBaseURL("http://[::1]:namedport"))
	_, err := client.ListContacts(context.Background(), "aud-123")
	if err == nil {
		t.Error("Expected error for invalid URL")
	}

	// Execution failure: connection refused.
	client2, _ := NewSDK("test-key", WithBaseURL("http://127.0.0.1:0"))
	_, err2 := client2.ListContacts(context.Background(), "aud-123")
	if err2 == nil {
		t.Error("Expected error for connection refusal")
	}
}

func TestClient_DecodeErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{invalid-json}`)); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))
	_, err := client.GetContact(context.Background(), "con-1", "aud-123")
	if err == nil {
		t.Error("Expected error for invalid JSON response")
	}
}

func TestConcurrentCreateContact(t *testing.T) {
	var (
		mu   sync.Mutex
		next int
	)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		next++
		id := fmt.Sprintf("con-%d", next)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"id": id}); err != nil {
			t.Errorf("Failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client, _ := NewSDK("test-key", WithBaseURL(ts.URL))

	type result struct {
		id  ContactID
		err error
	}
	results := make(chan result, 2)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		go func(email string) {
			id, err := client.CreateContact(context.Background(), "aud-123", NewContactData(email))
			results <- result{id: id, err: err}
		}(email)
	}

	first := <-results
	second := <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("Concurrent CreateContact() failed: %v, %v", first.err, second.err)
	}
	if first.id == second.id {
		t.Errorf("Expected distinct identifiers, got %s twice", first.id)
	}
}

func TestWithHTTPClient(t *testing.T) {
	customClient := &http.Client{Timeout: 5 * time.Second}
	sdk, err := NewSDK("key", WithHTTPClient(customClient))
	if err != nil {
		t.Fatalf("NewSDK() failed: %v", err)
	}
	if sdk.httpClient != customClient {
		t.Error("Expected custom HTTP client to be used")
	}
}
