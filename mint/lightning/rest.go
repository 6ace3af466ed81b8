package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
)

// restClient is the piece shared by the HTTP-based adapters: it carries the
// authenticated transport and classifies failures into the error taxonomy.
type restClient struct {
	backend string
	client  *http.Client
	// auth headers set on every request
	headers map[string]string
}

// do performs a request and returns the response body. Network failures come
// back as *TransportError, credential rejections as *AuthError and any
// non-2xx status as *ProtocolError carrying the response body.
func (rc *restClient) do(ctx context.Context, method, url string, body any) ([]byte, error) {
	bodyBytes, err := rc.roundTrip(ctx, method, url, body)
	if err != nil {
		if isClassified(err) {
			return nil, err
		}
		return nil, &TransportError{Op: method + " " + url, Err: err}
	}
	return bodyBytes, nil
}

// doSubmit is like do but for payment submissions, where a failure after the
// request may have reached the backend must not be treated as retryable. A
// failure before any request byte was written (the dial itself, or the TLS
// handshake) is a TransportError; any failure past that point is ambiguous
// and reported as such.
func (rc *restClient) doSubmit(ctx context.Context, url string, body any) ([]byte, bool, error) {
	bodyBytes, err := rc.roundTrip(ctx, http.MethodPost, url, body)
	if err != nil {
		if isClassified(err) {
			return nil, false, err
		}
		if failedBeforeRequest(err) {
			return nil, false, &TransportError{Op: "POST " + url, Err: err}
		}
		// the request went out, so the backend may have accepted the
		// payment before the failure
		return nil, true, err
	}
	return bodyBytes, false, nil
}

func (rc *restClient) roundTrip(ctx context.Context, method, url string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range rc.headers {
		req.Header.Set(k, v)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Backend: rc.backend, Detail: string(bodyBytes)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &backendError{status: resp.StatusCode, body: bodyBytes}
	}

	return bodyBytes, nil
}

// backendError is a non-2xx response with a readable body. Adapters decode
// the body into their node's error shape before classifying.
type backendError struct {
	status int
	body   []byte
}

func (e *backendError) Error() string {
	return "backend returned status " + http.StatusText(e.status) + ": " + string(e.body)
}

func (rc *restClient) protocolErr(op string, err error) *ProtocolError {
	return &ProtocolError{Backend: rc.backend, Op: op, Err: err}
}

// isClassified reports whether the error already carries a definitive
// classification from the response status line.
func isClassified(err error) bool {
	var authErr *AuthError
	var beErr *backendError
	return errors.As(err, &authErr) || errors.As(err, &beErr)
}

func dialFailed(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

// failedBeforeRequest reports whether the failure happened before any request
// byte could have been written: the dial never completed, or the TLS
// handshake was rejected.
func failedBeforeRequest(err error) bool {
	if dialFailed(err) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuthErr x509.UnknownAuthorityError
	var invalidCertErr x509.CertificateInvalidError
	var hostnameErr x509.HostnameError
	return errors.As(err, &verifyErr) || errors.As(err, &recordErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &invalidCertErr) ||
		errors.As(err, &hostnameErr)
}
