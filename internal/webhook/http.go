package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"go.miloapis.com/email-provider-resend/pkg/resend"
	notificationmiloapiscomv1alpha1 "go.miloapis.com/milo/pkg/apis/notification/v1alpha1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type Webhook struct {
	Handler       Handler
	Endpoint      string
	signingSecret string // Resend signing secret for webhook verification
}

type Request struct {
	Event *resend.ContactEvent
}

type Response struct {
	HttpStatus int `json:"HttpStatus"`
}

type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

type Handler interface {
	Handle(context.Context, Request) Response
}

// WebhookVerificationError represents errors that can occur during webhook verification
type WebhookVerificationError struct {
	Code    string
	Message string
	Err     error
}

func (e *WebhookVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Webhook verification error codes
var (
	ErrMissingHeaders     = errors.New("missing required webhook header")
	ErrMissingSecret      = errors.New("missing RESEND_SIGNING_SECRET environment variable")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrVerificationFailed = errors.New("webhook verification failed")
)

// verifyWebhook verifies the svix signature Resend attaches to webhook deliveries
func verifyWebhook(r *http.Request, body []byte, secret string) error {
	// Get the svix headers
	eventID := r.Header.Get("svix-id")
	timestamp := r.Header.Get("svix-timestamp")
	webhookSignature := r.Header.Get("svix-signature")

	// Verify required headers are present
	if eventID == "" || timestamp == "" || webhookSignature == "" {
		return &WebhookVerificationError{
			Code:    "MISSING_HEADERS",
			Message: "Missing required webhook header",
			Err:     ErrMissingHeaders,
		}
	}

	// Create signed content
	signedContent := fmt.Sprintf("%s.%s.%s", eventID, timestamp, string(body))

	// The secret has a "whsec_" prefix followed by the base64-encoded key
	parts := strings.Split(secret, "_")
	if len(parts) < 2 {
		return &WebhookVerificationError{
			Code:    "INVALID_SECRET_FORMAT",
			Message: "Invalid RESEND_SIGNING_SECRET format",
			Err:     ErrMissingSecret,
		}
	}

	secretBytes, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return &WebhookVerificationError{
			Code:    "INVALID_SECRET_ENCODING",
			Message: "Failed to decode RESEND_SIGNING_SECRET",
			Err:     err,
		}
	}

	// Create HMAC-SHA256 signature
	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(signedContent))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// Check if the signature matches
	// The svix-signature header contains space-separated signatures
	signatureFound := false
	for _, sig := range strings.Split(webhookSignature, " ") {
		// Each signature is in the format "v1,<signature>"
		if strings.Contains(sig, ","+signature) {
			signatureFound = true
			break
		}
	}

	if !signatureFound {
		return &WebhookVerificationError{
			Code:    "INVALID_SIGNATURE",
			Message: "Invalid signature",
			Err:     ErrInvalidSignature,
		}
	}

	return nil
}

const (
	contactProviderIDIndexKey      = "contact-status-providerID"
	audienceProviderIDIndexKey     = "group-providerID"
	groupMembershipRemovalIndexKey = "group-membership-removal"
	resendProviderName             = "Resend"
)

func buildGroupMembershipRemovalIndexKey(contactRef *notificationmiloapiscomv1alpha1.ContactReference, groupRef *notificationmiloapiscomv1alpha1.ContactGroupReference) string {
	return fmt.Sprintf("%s-%s-%s-%s", contactRef.Name, contactRef.Namespace, groupRef.Name, groupRef.Namespace)
}

// setupIndexes sets up the required field indexes for webhook operations
func setupIndexes(mgr ctrl.Manager) error {
	// Index Contact objects by the Resend contact id recorded in
	// .status.providers so the webhook handler can look them up when
	// processing incoming contact events.
	if err := mgr.GetFieldIndexer().IndexField(
		context.Background(),
		&notificationmiloapiscomv1alpha1.Contact{},
		contactProviderIDIndexKey,
		func(rawObj client.Object) []string {
			contact := rawObj.(*notificationmiloapiscomv1alpha1.Contact)
			for _, provider := range contact.Status.Providers {
				if provider.Name == resendProviderName && provider.ID != "" {
					return []string{provider.ID}
				}
			}
			return nil
		},
	); err != nil {
		return fmt.Errorf("failed to create contact index for providerID: %w", err)
	}

	// Index ContactGroup objects by the Resend audience id in
	// .spec.providers so the webhook handler can resolve the group an
	// event's audience belongs to.
	if err := mgr.GetFieldIndexer().IndexField(
		context.Background(),
		&notificationmiloapiscomv1alpha1.ContactGroup{},
		audienceProviderIDIndexKey,
		func(rawObj client.Object) []string {
			group := rawObj.(*notificationmiloapiscomv1alpha1.ContactGroup)
			for _, provider := range group.Spec.Providers {
				if provider.Name == resendProviderName {
					return []string{provider.ID}
				}
			}
			return nil
		},
	); err != nil {
		return fmt.Errorf("failed to create contact group index for providerID: %w", err)
	}

	// Index ContactGroupMembershipRemoval objects by contact and group
	// reference so the handler can find pending removals.
	if err := mgr.GetFieldIndexer().IndexField(
		context.Background(),
		&notificationmiloapiscomv1alpha1.ContactGroupMembershipRemoval{},
		groupMembershipRemovalIndexKey,
		func(rawObj client.Object) []string {
			removal := rawObj.(*notificationmiloapiscomv1alpha1.ContactGroupMembershipRemoval)
			return []string{buildGroupMembershipRemovalIndexKey(&removal.Spec.ContactRef, &removal.Spec.ContactGroupRef)}
		},
	); err != nil {
		return fmt.Errorf("failed to create contact group membership removal index: %w", err)
	}

	return nil
}

// SetupWithManager sets up the webhook with the Manager
func (w *Webhook) SetupWithManager(mgr ctrl.Manager) error {
	// Setup field indexes first
	if err := setupIndexes(mgr); err != nil {
		return err
	}

	hookServer := mgr.GetWebhookServer()
	hookServer.Register(w.Endpoint, w)

	return nil
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logf.FromContext(r.Context()).WithName("resend-http-webhook")
	log.Info("Handling request", "method", r.Method, "remoteAddr", r.RemoteAddr)

	// panic recovery
	defer func() {
		if r := recover(); r != nil {
			log.Error(nil, "Panic in webhook handler", "panic", r)
			wh.writeResponse(w, InternalServerErrorResponse())
		}
	}()

	if r.Method != http.MethodPost {
		log.Error(nil, "Method not allowed", "method", r.Method)
		w.Header().Set("Allow", http.MethodPost)
		wh.writeResponse(w, MethodNotAllowedResponse())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error(err, "Failed to read request body")
		wh.writeResponse(w, InternalServerErrorResponse())
		return
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error(err, "Failed to close request body")
		}
	}()

	// Verify webhook signature
	if err := verifyWebhook(r, body, wh.signingSecret); err != nil {
		var verifyErr *WebhookVerificationError
		if errors.As(err, &verifyErr) {
			log.Error(err, "Webhook verification failed", "code", verifyErr.Code)
		} else {
			log.Error(err, "Webhook verification failed")
		}
		wh.writeResponse(w, UnauthorizedResponse())
		return
	}

	event, err := resend.ParseContactEvent(body)
	if err != nil {
		log.Error(err, "Failed to parse contact event")
		wh.writeResponse(w, BadRequestResponse())
		return
	}

	log.Info("Parsed contact event", "eventType", event.Type, "contactID", event.Contact.ID, "audienceID", event.Contact.AudienceID)

	response := wh.Handler.Handle(r.Context(), Request{Event: event})
	wh.writeResponse(w, response)
}

func (wh *Webhook) writeResponse(w http.ResponseWriter, response Response) {
	w.WriteHeader(response.HttpStatus)
}
