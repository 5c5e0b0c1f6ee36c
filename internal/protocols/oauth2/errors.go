package oauth2

import (
	"encoding/json"
	"net/http"
	"net/url"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RFC 6749 Section 5.2 error URIs - links to relevant documentation
var oauth2ErrorURIs = map[string]string{
	"invalid_request":           "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"invalid_client":            "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"invalid_grant":             "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"unauthorized_client":       "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"unsupported_grant_type":    "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"invalid_scope":             "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2",
	"unsupported_response_type": "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1",
	"access_denied":             "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1",
	"server_error":              "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1",
	"temporarily_unavailable":   "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1",
}

// writeOAuth2Error writes an error response per RFC 6749 Section 5.2.
// invalid_client gets 401 with a Basic challenge, everything else 400.
func writeOAuth2Error(w http.ResponseWriter, errorCode, description string) {
	response := map[string]string{
		"error":             errorCode,
		"error_description": description,
	}
	if uri, exists := oauth2ErrorURIs[errorCode]; exists {
		response["error_uri"] = uri
	}

	status := http.StatusBadRequest
	if errorCode == "invalid_client" {
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="seatidp"`)
	}
	writeJSON(w, status, response)
}

// redirectError sends a protocol error back to the client's redirect URI
// (RFC 6749 Section 4.1.2.1). Only called after the redirect URI has been
// validated against the client's registration.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, errorCode, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuth2Error(w, "invalid_request", "Invalid redirect_uri")
		return
	}
	q := target.Query()
	q.Set("error", errorCode)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// redirectCode completes a successful authorization with a code redirect,
// echoing state unmodified (RFC 6749 Section 4.1.2).
func redirectCode(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuth2Error(w, "server_error", "Invalid redirect_uri")
		return
	}
	q := target.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}
