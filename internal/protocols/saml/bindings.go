package saml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Binding identifies how a SAML message arrived or should be sent.
type Binding string

const (
	BindingRedirect Binding = "redirect"
	BindingPost     Binding = "post"
)

// DetectBinding maps the HTTP method to the SAML binding in use.
func DetectBinding(r *http.Request) Binding {
	if r.Method == http.MethodPost {
		return BindingPost
	}
	return BindingRedirect
}

// DecodeRedirect decodes a message from the HTTP-Redirect binding: base64,
// then raw DEFLATE (SAML 2.0 Bindings Section 3.4.4.1 — no zlib header).
func DecodeRedirect(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64 decode: %w", err)
	}

	reader := flate.NewReader(io.LimitReader(bytes.NewReader(compressed), 1<<20))
	defer reader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(reader, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return decompressed, nil
}

// EncodeRedirect encodes raw XML for the HTTP-Redirect binding: raw DEFLATE
// then base64. Writes to an in-memory buffer cannot fail.
func EncodeRedirect(xmlData []byte) string {
	var compressed bytes.Buffer
	writer, _ := flate.NewWriter(&compressed, flate.BestCompression)
	writer.Write(xmlData)
	writer.Close()
	return base64.StdEncoding.EncodeToString(compressed.Bytes())
}

// DecodePost decodes a message from the HTTP-POST binding: plain base64
// (SAML 2.0 Bindings Section 3.5.4).
func DecodePost(encoded string) ([]byte, error) {
	// Some SP stacks leave '+' unescaped in the form body.
	decoded := strings.ReplaceAll(encoded, " ", "+")

	xmlData, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64 decode: %w", err)
	}
	return xmlData, nil
}

// ParseRequest extracts the raw SAML message and RelayState from either
// binding.
func ParseRequest(r *http.Request) (xmlData []byte, relayState string, binding Binding, err error) {
	binding = DetectBinding(r)

	var encoded string
	switch binding {
	case BindingPost:
		if err = r.ParseForm(); err != nil {
			return nil, "", binding, fmt.Errorf("failed to parse form: %w", err)
		}
		encoded = r.FormValue("SAMLRequest")
		relayState = r.FormValue("RelayState")
		if encoded == "" {
			return nil, "", binding, fmt.Errorf("no SAMLRequest in form")
		}
		xmlData, err = DecodePost(encoded)
	case BindingRedirect:
		query := r.URL.Query()
		encoded = query.Get("SAMLRequest")
		relayState = query.Get("RelayState")
		if encoded == "" {
			return nil, "", binding, fmt.Errorf("no SAMLRequest in query")
		}
		xmlData, err = DecodeRedirect(encoded)
	}
	return xmlData, relayState, binding, err
}

// EncodePost serializes a message for the HTTP-POST binding.
func EncodePost(message interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(message, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(xml.Header + string(xmlData))), nil
}

// EncodePostRaw wraps already-serialized XML for the HTTP-POST binding. Used
// for signed documents, whose bytes must not be re-serialized.
func EncodePostRaw(xmlData []byte) string {
	return base64.StdEncoding.EncodeToString(xmlData)
}

// PostForm renders the auto-submitting HTML form that delivers a message to
// the SP (SAML 2.0 Bindings Section 3.5.4). paramName is SAMLResponse for
// IdP output.
func PostForm(destination, paramName, encoded, relayState string) (string, error) {
	if err := validateDestinationURL(destination); err != nil {
		return "", fmt.Errorf("invalid destination URL: %w", err)
	}

	if len(relayState) > 1024 {
		relayState = relayState[:1024]
	}
	relayStateInput := ""
	if relayState != "" {
		relayStateInput = fmt.Sprintf(`<input type="hidden" name="RelayState" value="%s"/>`, escapeHTML(relayState))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Signing you in</title>
</head>
<body onload="document.forms[0].submit()">
    <noscript>
        <p>JavaScript is required. Please click the button below to continue.</p>
    </noscript>
    <form method="POST" action="%s">
        <input type="hidden" name="%s" value="%s"/>
        %s
        <noscript>
            <input type="submit" value="Continue"/>
        </noscript>
    </form>
</body>
</html>`, escapeHTML(destination), paramName, encoded, relayStateInput), nil
}

// BuildSignedRedirectURL encodes a message for the HTTP-Redirect binding and
// signs the query string. Per SAML 2.0 Bindings Section 3.4.4.1 the signature
// covers the ordered concatenation SAMLResponse=..&RelayState=..&SigAlg=..
// using the URL-encoded values.
func BuildSignedRedirectURL(destination string, message interface{}, paramName, relayState string, key *rsa.PrivateKey) (string, error) {
	xmlData, err := xml.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}

	encoded := EncodeRedirect(xmlData)

	var signatureInput strings.Builder
	signatureInput.WriteString(paramName)
	signatureInput.WriteString("=")
	signatureInput.WriteString(url.QueryEscape(encoded))

	params := url.Values{}
	params.Set(paramName, encoded)

	if relayState != "" {
		signatureInput.WriteString("&RelayState=")
		signatureInput.WriteString(url.QueryEscape(relayState))
		params.Set("RelayState", relayState)
	}

	if key != nil {
		sigAlg := SigAlgRSASHA256
		signatureInput.WriteString("&SigAlg=")
		signatureInput.WriteString(url.QueryEscape(sigAlg))

		hash := sha256.Sum256([]byte(signatureInput.String()))
		signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
		if err != nil {
			return "", fmt.Errorf("failed to sign: %w", err)
		}
		params.Set("SigAlg", sigAlg)
		params.Set("Signature", base64.StdEncoding.EncodeToString(signature))
	}

	parsedURL, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("invalid destination URL: %w", err)
	}
	parsedURL.RawQuery = params.Encode()
	return parsedURL.String(), nil
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}

// validateDestinationURL rejects URLs unsafe as a form action or redirect
// target: non-HTTP schemes and schemeless absolute URLs.
func validateDestinationURL(dest string) error {
	if dest == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "" && scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s", scheme)
	}
	if parsed.Host != "" && scheme == "" {
		return fmt.Errorf("absolute URL missing scheme")
	}
	return nil
}
