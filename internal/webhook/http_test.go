package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"go.miloapis.com/email-provider-resend/pkg/resend"
)

const testSigningKey = "dGVzdC1zaWduaW5nLWtleQ==" // base64("test-signing-key")

var testSigningSecret = "whsec_" + testSigningKey

const contactUpdatedBody = `{
	"type": "contact.updated",
	"created_at": "2024-02-22T23:41:12.126Z",
	"data": {
		"id": "con-479e3145",
		"audience_id": "aud-78261eea",
		"created_at": "2024-10-22 23:41:11.894719+00",
		"updated_at": "2024-10-22 23:41:11.894719+00",
		"email": "steve.wozniak@gmail.com",
		"first_name": "Steve",
		"last_name": "Wozniak",
		"unsubscribed": true
	}
}`

// signBody produces a valid svix signature header for the given body.
func signBody(eventID, timestamp, body string) string {
	key, err := base64.StdEncoding.DecodeString(testSigningKey)
	Expect(err).NotTo(HaveOccurred())

	h := hmac.New(sha256.New, key)
	h.Write([]byte(fmt.Sprintf("%s.%s.%s", eventID, timestamp, body)))
	return "v1," + base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func signedRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/apis/emailnotification.k8s.io/v1/resend/contacts", strings.NewReader(body))
	req.Header.Set("svix-id", "msg_test")
	req.Header.Set("svix-timestamp", "1706000000")
	req.Header.Set("svix-signature", signBody("msg_test", "1706000000", body))
	return req
}

var _ = Describe("Resend contact webhook", func() {
	var (
		wh      *Webhook
		handled []resend.ContactEventType
	)

	BeforeEach(func() {
		handled = nil
		wh = &Webhook{
			Handler: HandlerFunc(func(_ context.Context, req Request) Response {
				handled = append(handled, req.Event.Type)
				return OkResponse()
			}),
			Endpoint:      "/apis/emailnotification.k8s.io/v1/resend/contacts",
			signingSecret: testSigningSecret,
		}
	})

	It("rejects non-POST requests", func() {
		req := httptest.NewRequest(http.MethodGet, wh.Endpoint, nil)
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(rec.Header().Get("Allow")).To(Equal(http.MethodPost))
		Expect(handled).To(BeEmpty())
	})

	It("rejects deliveries without svix headers", func() {
		req := httptest.NewRequest(http.MethodPost, wh.Endpoint, strings.NewReader(contactUpdatedBody))
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(handled).To(BeEmpty())
	})

	It("rejects deliveries with an invalid signature", func() {
		req := signedRequest(contactUpdatedBody)
		req.Header.Set("svix-signature", "v1,bm90LXRoZS1yaWdodC1zaWduYXR1cmU=")
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(handled).To(BeEmpty())
	})

	It("dispatches a verified contact event to the handler", func() {
		req := signedRequest(contactUpdatedBody)
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(handled).To(ConsistOf(resend.EventContactUpdated))
	})

	It("rejects unparseable payloads", func() {
		req := signedRequest(`{not-json}`)
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(handled).To(BeEmpty())
	})

	It("rejects unsupported event types", func() {
		body := `{"type":"email.sent","created_at":"2024-02-22T23:41:12.126Z","data":{}}`
		req := signedRequest(body)
		rec := httptest.NewRecorder()

		wh.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(handled).To(BeEmpty())
	})
})

var _ = Describe("Webhook signature verification", func() {
	It("accepts any matching signature among several", func() {
		req := signedRequest(contactUpdatedBody)
		sig := req.Header.Get("svix-signature")
		req.Header.Set("svix-signature", "v1,AAAA "+sig)

		Expect(verifyWebhook(req, []byte(contactUpdatedBody), testSigningSecret)).To(Succeed())
	})

	It("fails on a malformed signing secret", func() {
		req := signedRequest(contactUpdatedBody)

		err := verifyWebhook(req, []byte(contactUpdatedBody), "no-prefix")

		var verifyErr *WebhookVerificationError
		Expect(errors.As(err, &verifyErr)).To(BeTrue())
		Expect(verifyErr.Code).To(Equal("INVALID_SECRET_FORMAT"))
	})

	It("fails when the secret is not base64", func() {
		req := signedRequest(contactUpdatedBody)

		err := verifyWebhook(req, []byte(contactUpdatedBody), "whsec_%%%")

		var verifyErr *WebhookVerificationError
		Expect(errors.As(err, &verifyErr)).To(BeTrue())
		Expect(verifyErr.Code).To(Equal("INVALID_SECRET_ENCODING"))
	})
})
