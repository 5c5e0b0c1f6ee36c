package saml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// EntityDescriptor is the root of a SAML metadata document
// (SAML 2.0 Metadata Section 2.3.2).
type EntityDescriptor struct {
	XMLName          xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	DS               string            `xml:"xmlns:ds,attr,omitempty"`
	EntityID         string            `xml:"entityID,attr"`
	ValidUntil       string            `xml:"validUntil,attr,omitempty"`
	CacheDuration    string            `xml:"cacheDuration,attr,omitempty"`
	IDPSSODescriptor *IDPSSODescriptor `xml:"IDPSSODescriptor,omitempty"`
	SPSSODescriptor  *SPSSODescriptor  `xml:"SPSSODescriptor,omitempty"`
}

// IDPSSODescriptor advertises this IdP's endpoints and signing certificate.
type IDPSSODescriptor struct {
	XMLName                    xml.Name              `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`
	ProtocolSupportEnumeration string                `xml:"protocolSupportEnumeration,attr"`
	WantAuthnRequestsSigned    bool                  `xml:"WantAuthnRequestsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor       `xml:"KeyDescriptor,omitempty"`
	SingleLogoutServices       []SingleLogoutService `xml:"SingleLogoutService,omitempty"`
	NameIDFormats              []string              `xml:"NameIDFormat,omitempty"`
	SingleSignOnServices       []SingleSignOnService `xml:"SingleSignOnService"`
}

// SPSSODescriptor is the service-provider half, consumed when an
// administrator registers an application from its metadata document.
type SPSSODescriptor struct {
	XMLName                    xml.Name                   `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`
	ProtocolSupportEnumeration string                     `xml:"protocolSupportEnumeration,attr"`
	AuthnRequestsSigned        bool                       `xml:"AuthnRequestsSigned,attr,omitempty"`
	WantAssertionsSigned       bool                       `xml:"WantAssertionsSigned,attr,omitempty"`
	KeyDescriptors             []KeyDescriptor            `xml:"KeyDescriptor,omitempty"`
	SingleLogoutServices       []SingleLogoutService      `xml:"SingleLogoutService,omitempty"`
	NameIDFormats              []string                   `xml:"NameIDFormat,omitempty"`
	AssertionConsumerServices  []AssertionConsumerService `xml:"AssertionConsumerService"`
}

// KeyDescriptor carries a certificate in metadata. X509Certificate holds
// base64-encoded DER, not PEM.
type KeyDescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata KeyDescriptor"`
	Use     string   `xml:"use,attr,omitempty"`
	KeyInfo KeyInfo  `xml:"KeyInfo"`
}

// KeyInfo is the ds:KeyInfo wrapper around certificate data.
type KeyInfo struct {
	XMLName  xml.Name  `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	X509Data *X509Data `xml:"X509Data,omitempty"`
}

type X509Data struct {
	XMLName         xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509Certificate string   `xml:"X509Certificate"`
}

type SingleSignOnService struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleSignOnService"`
	Binding  string   `xml:"Binding,attr"`
	Location string   `xml:"Location,attr"`
}

type SingleLogoutService struct {
	XMLName          xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SingleLogoutService"`
	Binding          string   `xml:"Binding,attr"`
	Location         string   `xml:"Location,attr"`
	ResponseLocation string   `xml:"ResponseLocation,attr,omitempty"`
}

type AssertionConsumerService struct {
	XMLName   xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata AssertionConsumerService"`
	Binding   string   `xml:"Binding,attr"`
	Location  string   `xml:"Location,attr"`
	Index     int      `xml:"index,attr"`
	IsDefault bool     `xml:"isDefault,attr,omitempty"`
}

// BuildIdPMetadata assembles the EntityDescriptor for one registered
// application: the per-application signing certificate, the configured
// NameID format, and SSO/SLO endpoints for both bindings.
func BuildIdPMetadata(entityID, ssoURL, sloURL, certB64, nameIDFormat string) *EntityDescriptor {
	if nameIDFormat == "" {
		nameIDFormat = NameIDFormatUnspecified
	}
	return &EntityDescriptor{
		DS:       NamespaceDS,
		EntityID: entityID,
		IDPSSODescriptor: &IDPSSODescriptor{
			ProtocolSupportEnumeration: NamespaceSAMLp,
			KeyDescriptors: []KeyDescriptor{
				{
					Use: "signing",
					KeyInfo: KeyInfo{
						X509Data: &X509Data{X509Certificate: certB64},
					},
				},
			},
			NameIDFormats: []string{nameIDFormat},
			SingleSignOnServices: []SingleSignOnService{
				{Binding: BindingHTTPRedirect, Location: ssoURL},
				{Binding: BindingHTTPPost, Location: ssoURL},
			},
			SingleLogoutServices: []SingleLogoutService{
				{Binding: BindingHTTPRedirect, Location: sloURL},
				{Binding: BindingHTTPPost, Location: sloURL},
			},
		},
	}
}

// SPMetadata is what provider registration extracts from a service
// provider's metadata document.
type SPMetadata struct {
	EntityID     string
	ACSURL       string
	SLOURL       string
	Certificate  string
	NameIDFormat string
}

// ParseSPMetadata extracts registration fields from an SP EntityDescriptor.
// The POST-binding ACS is preferred since assertions are delivered by form
// POST.
func ParseSPMetadata(xmlData []byte) (*SPMetadata, error) {
	var descriptor EntityDescriptor
	if err := xml.Unmarshal(xmlData, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if descriptor.EntityID == "" {
		return nil, fmt.Errorf("metadata has no entityID")
	}
	sp := descriptor.SPSSODescriptor
	if sp == nil {
		return nil, fmt.Errorf("metadata has no SPSSODescriptor")
	}

	meta := &SPMetadata{EntityID: descriptor.EntityID}
	for _, acs := range sp.AssertionConsumerServices {
		if meta.ACSURL == "" || acs.Binding == BindingHTTPPost {
			meta.ACSURL = acs.Location
		}
		if acs.Binding == BindingHTTPPost {
			break
		}
	}
	if meta.ACSURL == "" {
		return nil, fmt.Errorf("metadata has no AssertionConsumerService")
	}
	if len(sp.SingleLogoutServices) > 0 {
		meta.SLOURL = sp.SingleLogoutServices[0].Location
	}
	if len(sp.NameIDFormats) > 0 {
		meta.NameIDFormat = sp.NameIDFormats[0]
	}
	for _, kd := range sp.KeyDescriptors {
		if kd.Use != "" && kd.Use != "signing" {
			continue
		}
		if kd.KeyInfo.X509Data != nil {
			raw := strings.Join(strings.Fields(kd.KeyInfo.X509Data.X509Certificate), "")
			if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
				return nil, fmt.Errorf("metadata certificate is not valid base64: %w", err)
			}
			meta.Certificate = raw
			break
		}
	}
	return meta, nil
}

// handleMetadata serves this IdP's metadata for one application. It is
// public: metadata contains only the certificate and endpoint locations.
func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	sp, err := h.resolveProvider(r, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Unknown SAML application", http.StatusNotFound)
		return
	}

	certB64 := strings.Join(strings.Fields(sp.IdPCertificate), "")
	metadata := BuildIdPMetadata(h.entityID(sp), h.ssoURL(sp), h.sloURL(sp), certB64, sp.NameIDFormat)

	xmlData, err := xml.MarshalIndent(metadata, "", "  ")
	if err != nil {
		http.Error(w, "Failed to marshal metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	fmt.Fprint(w, xml.Header+string(xmlData))
}
