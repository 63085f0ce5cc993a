package webhook

import "net/http"

// OkResponse acknowledges a processed event.
func OkResponse() Response {
	return Response{HttpStatus: http.StatusOK}
}

// BadRequestResponse rejects a malformed or unprocessable event.
func BadRequestResponse() Response {
	return Response{HttpStatus: http.StatusBadRequest}
}

// UnauthorizedResponse rejects a delivery that failed signature verification.
func UnauthorizedResponse() Response {
	return Response{HttpStatus: http.StatusUnauthorized}
}

// MethodNotAllowedResponse rejects anything other than POST.
func MethodNotAllowedResponse() Response {
	return Response{HttpStatus: http.StatusMethodNotAllowed}
}

// InternalServerErrorResponse reports a processing failure so Resend retries
// the delivery.
func InternalServerErrorResponse() Response {
	return Response{HttpStatus: http.StatusInternalServerError}
}
