package saml

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// Signature algorithm identifiers for the Redirect binding (XML-DSig RFC
// 4051 URIs).
const (
	SigAlgRSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SigAlgRSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	SigAlgRSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
)

// keyStore adapts a provider's signing credentials to goxmldsig.
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte
}

func (ks keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert, nil
}

// SignResponse serializes a Response and envelope-signs its assertion:
// exclusive C14N, SHA-256 digest, RSA-SHA256 signature, signing certificate
// in KeyInfo. Per the SAML schema the ds:Signature element is placed
// directly after the assertion's Issuer.
func SignResponse(response *Response, key *rsa.PrivateKey, certDER []byte) ([]byte, error) {
	xmlData, err := xml.MarshalIndent(response, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	assertion := doc.FindElement("//Assertion")
	if assertion == nil {
		return nil, fmt.Errorf("response has no assertion")
	}

	ctx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: certDER})
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	ctx.Hash = crypto.SHA256

	signed, err := ctx.SignEnveloped(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	// SignEnveloped appends the signature as the last child; the enveloped
	// transform makes position irrelevant to verification, but schema
	// validation wants it after Issuer.
	repositionSignature(signed)

	parent := assertion.Parent()
	idx := assertion.Index()
	parent.RemoveChild(assertion)
	parent.InsertChildAt(idx, signed)

	doc.WriteSettings.CanonicalEndTags = true
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed response: %w", err)
	}
	return out, nil
}

// SignLogoutResponse envelope-signs a LogoutResponse at the document root.
// Unlike a Response there is no assertion; the signature covers the whole
// status document.
func SignLogoutResponse(response *LogoutResponse, key *rsa.PrivateKey, certDER []byte) ([]byte, error) {
	xmlData, err := xml.MarshalIndent(response, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logout response: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, fmt.Errorf("failed to parse logout response: %w", err)
	}
	root := doc.Root()

	ctx := dsig.NewDefaultSigningContext(keyStore{key: key, cert: certDER})
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	ctx.Hash = crypto.SHA256

	signed, err := ctx.SignEnveloped(root)
	if err != nil {
		return nil, fmt.Errorf("failed to sign logout response: %w", err)
	}
	repositionSignature(signed)

	doc.SetRoot(signed)
	doc.WriteSettings.CanonicalEndTags = true
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed logout response: %w", err)
	}
	return out, nil
}

func repositionSignature(assertion *etree.Element) {
	sig := assertion.FindElement("./Signature")
	if sig == nil {
		return
	}
	issuer := assertion.FindElement("./Issuer")
	if issuer == nil {
		return
	}
	assertion.RemoveChild(sig)
	assertion.InsertChildAt(issuer.Index()+1, sig)
}

// VerifyEmbeddedSignature validates the XML signature on an inbound message
// against the SP's registered certificate. The message root must carry the
// signature (POST binding, SAML 2.0 Core Section 5.4).
func VerifyEmbeddedSignature(xmlData []byte, cert *x509.Certificate) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("empty message")
	}
	if root.FindElement("./Signature") == nil {
		return fmt.Errorf("message is not signed")
	}

	certStore := &dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}
	ctx := dsig.NewDefaultValidationContext(certStore)
	if _, err := ctx.Validate(root); err != nil {
		return fmt.Errorf("signature validation failed: %w", err)
	}
	return nil
}

// VerifyRedirectSignature validates the detached query signature of a
// Redirect-binding message (SAML 2.0 Bindings Section 3.4.4.1). The signed
// data is the ordered concatenation of the SAMLRequest, RelayState and
// SigAlg parameters exactly as they were URL-encoded by the sender, so the
// raw query string is consulted rather than decoded values.
func VerifyRedirectSignature(rawQuery string, cert *x509.Certificate) error {
	raw := rawQueryValues(rawQuery)

	samlRequest, ok := raw["SAMLRequest"]
	if !ok {
		return fmt.Errorf("no SAMLRequest parameter")
	}
	sigValue, ok := raw["Signature"]
	if !ok {
		return fmt.Errorf("no Signature parameter")
	}

	var signedData strings.Builder
	signedData.WriteString("SAMLRequest=")
	signedData.WriteString(samlRequest)
	if relayState, ok := raw["RelayState"]; ok {
		signedData.WriteString("&RelayState=")
		signedData.WriteString(relayState)
	}
	sigAlg := ""
	if rawAlg, ok := raw["SigAlg"]; ok {
		signedData.WriteString("&SigAlg=")
		signedData.WriteString(rawAlg)
		if decoded, err := url.QueryUnescape(rawAlg); err == nil {
			sigAlg = decoded
		}
	}

	decodedSig, err := url.QueryUnescape(sigValue)
	if err != nil {
		return fmt.Errorf("failed to decode signature parameter: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(decodedSig)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	rsaPub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate does not contain an RSA public key")
	}

	hashAlg, digest := digestFor(sigAlg, []byte(signedData.String()))
	if err := rsa.VerifyPKCS1v15(rsaPub, hashAlg, digest, signature); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// digestFor hashes the signed data per the SigAlg parameter, defaulting to
// SHA-256 when the algorithm is absent or unknown.
func digestFor(sigAlg string, data []byte) (crypto.Hash, []byte) {
	switch sigAlg {
	case SigAlgRSASHA1:
		sum := sha1.Sum(data)
		return crypto.SHA1, sum[:]
	case SigAlgRSASHA384:
		sum := sha512.Sum384(data)
		return crypto.SHA384, sum[:]
	case SigAlgRSASHA512:
		sum := sha512.Sum512(data)
		return crypto.SHA512, sum[:]
	default:
		sum := sha256.Sum256(data)
		return crypto.SHA256, sum[:]
	}
}

// rawQueryValues splits a raw query string without decoding the values.
func rawQueryValues(rawQuery string) map[string]string {
	values := make(map[string]string)
	for _, pair := range strings.Split(rawQuery, "&") {
		if idx := strings.Index(pair, "="); idx > 0 {
			values[pair[:idx]] = pair[idx+1:]
		}
	}
	return values
}
