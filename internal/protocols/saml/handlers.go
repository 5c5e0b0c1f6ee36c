package saml

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/directory"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

// Handler serves the SAML IdP endpoints: SSO, SLO and per-application
// metadata.
type Handler struct {
	store     *storage.Store
	directory *directory.Service
	claims    *identity.Provider
	base      string
	log       *logrus.Entry
}

func NewHandler(store *storage.Store, dir *directory.Service, claims *identity.Provider, baseURL string, log *logrus.Entry) *Handler {
	return &Handler{
		store:     store,
		directory: dir,
		claims:    claims,
		base:      baseURL,
		log:       log,
	}
}

// Mount attaches the SAML routes. Both bindings arrive on the same paths:
// Redirect as GET query parameters, POST as form fields.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/saml/applications/{id}/metadata", h.handleMetadata)
	r.Route("/saml/{application}", func(r chi.Router) {
		r.Get("/sso", h.handleSSO)
		r.Post("/sso", h.handleSSO)
		r.Get("/slo", h.handleSLO)
		r.Post("/slo", h.handleSLO)
	})
}

// resolveProvider looks up a service provider by numeric id or, failing
// that, by entity identifier.
func (h *Handler) resolveProvider(r *http.Request, param string) (*models.SamlProvider, error) {
	if id, err := strconv.ParseInt(param, 10, 64); err == nil {
		if sp, err := h.store.GetSamlProvider(r.Context(), id); err == nil {
			return sp, nil
		}
	}
	return h.store.GetSamlProviderByEntityID(r.Context(), param)
}

// entityID is this IdP's issuer value for a service provider: its metadata
// URL.
func (h *Handler) entityID(sp *models.SamlProvider) string {
	return fmt.Sprintf("%s/saml/applications/%d/metadata", h.base, sp.ID)
}

func (h *Handler) ssoURL(sp *models.SamlProvider) string {
	return fmt.Sprintf("%s/saml/%d/sso", h.base, sp.ID)
}

func (h *Handler) sloURL(sp *models.SamlProvider) string {
	return fmt.Sprintf("%s/saml/%d/slo", h.base, sp.ID)
}

func (h *Handler) handleSSO(w http.ResponseWriter, r *http.Request) {
	sp, err := h.resolveProvider(r, chi.URLParam(r, "application"))
	if err != nil {
		http.Error(w, "Unknown SAML application", http.StatusNotFound)
		return
	}
	// Disabled applications are refused before any request parsing.
	if !sp.IsActive {
		http.Error(w, "SAML application is disabled", http.StatusForbidden)
		return
	}

	xmlData, relayState, binding, err := ParseRequest(r)
	if err != nil {
		http.Error(w, "Invalid SAML request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.verifyRequestSignature(sp, r, xmlData); err != nil {
		h.log.WithError(err).WithField("entity_id", sp.EntityID).Warn("rejected AuthnRequest signature")
		http.Error(w, "Invalid SAML request signature: "+err.Error(), http.StatusBadRequest)
		return
	}

	var authnRequest AuthnRequest
	if err := xml.Unmarshal(xmlData, &authnRequest); err != nil {
		http.Error(w, "Invalid AuthnRequest: "+err.Error(), http.StatusBadRequest)
		return
	}
	if authnRequest.Version != "2.0" {
		http.Error(w, "Unsupported SAML version: "+authnRequest.Version, http.StatusBadRequest)
		return
	}

	user := h.directory.CurrentUser(r)
	if user == nil {
		h.redirectToLogin(w, r, binding, xmlData, relayState)
		return
	}

	h.completeSSO(w, r, sp, user, &authnRequest, relayState)
}

// redirectToLogin bounces an unauthenticated browser to the login page with
// the SSO URL as the return target. A POST-binding request has its payload
// re-encoded into Redirect-binding form so it survives the round trip; an
// embedded signature is carried unchanged inside the XML.
func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request, binding Binding, xmlData []byte, relayState string) {
	next := r.URL.RequestURI()
	if binding == BindingPost {
		params := url.Values{"SAMLRequest": {EncodeRedirect(xmlData)}}
		if relayState != "" {
			params.Set("RelayState", relayState)
		}
		next = r.URL.Path + "?" + params.Encode()
	}
	http.Redirect(w, r, "/login?next="+url.QueryEscape(next), http.StatusFound)
}

// verifyRequestSignature enforces request authentication when the service
// provider registered a verification certificate: a detached query signature
// when present, otherwise an embedded XML signature. With no registered
// certificate inbound requests are accepted unsigned.
func (h *Handler) verifyRequestSignature(sp *models.SamlProvider, r *http.Request, xmlData []byte) error {
	if sp.Certificate == "" {
		return nil
	}
	cert, err := ParseCertificate(sp.Certificate)
	if err != nil {
		return fmt.Errorf("invalid registered certificate: %w", err)
	}
	if r.URL.Query().Get("Signature") != "" {
		return VerifyRedirectSignature(r.URL.RawQuery, cert)
	}
	return VerifyEmbeddedSignature(xmlData, cert)
}

// completeSSO builds, signs and delivers the assertion for an authenticated
// user. The AuthnRequest's AssertionConsumerServiceURL wins over the
// registered ACS when present.
func (h *Handler) completeSSO(w http.ResponseWriter, r *http.Request, sp *models.SamlProvider, user *models.User, req *AuthnRequest, relayState string) {
	acsURL := sp.ACSURL
	if req.AssertionConsumerServiceURL != "" {
		acsURL = req.AssertionConsumerServiceURL
	}
	if acsURL == "" {
		http.Error(w, "Application has no ACS URL", http.StatusInternalServerError)
		return
	}

	nameID, nameIDFormat := h.nameIDFor(sp, user)
	attributes := h.attributesFor(user)

	issuer := h.entityID(sp)
	response := NewResponse(issuer, acsURL, req.ID)
	assertion := NewAssertion(issuer, sp.EntityID, acsURL, req.ID, nameID, nameIDFormat, GenerateID(), attributes)
	response.Assertions = append(response.Assertions, assertion)

	key, err := ParseRSAPrivateKey(sp.IdPPrivateKey)
	if err != nil {
		http.Error(w, "Failed to load signing key", http.StatusInternalServerError)
		return
	}
	cert, err := ParseCertificate(sp.IdPCertificate)
	if err != nil {
		http.Error(w, "Failed to load signing certificate", http.StatusInternalServerError)
		return
	}

	signedXML, err := SignResponse(response, key, cert.Raw)
	if err != nil {
		h.log.WithError(err).Error("failed to sign SAML response")
		http.Error(w, "Failed to sign response", http.StatusInternalServerError)
		return
	}

	form, err := PostForm(acsURL, "SAMLResponse", EncodePostRaw(signedXML), relayState)
	if err != nil {
		http.Error(w, "Failed to generate POST form: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.WithFields(logrus.Fields{
		"entity_id": sp.EntityID,
		"user_id":   user.ID,
		"request":   req.ID,
	}).Info("issued SAML assertion")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, form)
}

// nameIDFor selects the subject identifier for the provider's configured
// NameID format. Transient identifiers are freshly random per response.
func (h *Handler) nameIDFor(sp *models.SamlProvider, user *models.User) (string, string) {
	switch sp.NameIDFormat {
	case NameIDFormatEmail:
		return h.claims.SyntheticEmail(user.ID), NameIDFormatEmail
	case NameIDFormatPersistent:
		return strconv.FormatInt(user.ID, 10), NameIDFormatPersistent
	case NameIDFormatTransient:
		return GenerateID(), NameIDFormatTransient
	default:
		return user.Name, NameIDFormatUnspecified
	}
}

func (h *Handler) attributesFor(user *models.User) []Attribute {
	attributes := []Attribute{
		NewAttribute("user_id", strconv.FormatInt(user.ID, 10)),
		NewAttribute("name", user.Name),
		NewAttribute("email", h.claims.SyntheticEmail(user.ID)),
		NewAttribute("is_admin", strconv.FormatBool(user.Admin)),
	}
	if user.MainCharacterID != nil {
		attributes = append(attributes, NewAttribute("character_id", strconv.FormatInt(*user.MainCharacterID, 10)))
	}
	if user.CorporationID != nil {
		attributes = append(attributes, NewAttribute("corporation_id", strconv.FormatInt(*user.CorporationID, 10)))
	}
	if len(user.Squads) > 0 {
		attributes = append(attributes, NewAttribute("squads", user.Squads...))
	}
	return attributes
}

func (h *Handler) handleSLO(w http.ResponseWriter, r *http.Request) {
	sp, err := h.resolveProvider(r, chi.URLParam(r, "application"))
	if err != nil {
		http.Error(w, "Unknown SAML application", http.StatusNotFound)
		return
	}
	if !sp.IsActive {
		http.Error(w, "SAML application is disabled", http.StatusForbidden)
		return
	}

	xmlData, relayState, binding, err := ParseRequest(r)
	if err != nil {
		http.Error(w, "Invalid SAML request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.verifyRequestSignature(sp, r, xmlData); err != nil {
		h.log.WithError(err).WithField("entity_id", sp.EntityID).Warn("rejected LogoutRequest signature")
		http.Error(w, "Invalid SAML request signature: "+err.Error(), http.StatusBadRequest)
		return
	}

	var logoutRequest LogoutRequest
	if err := xml.Unmarshal(xmlData, &logoutRequest); err != nil {
		http.Error(w, "Invalid LogoutRequest: "+err.Error(), http.StatusBadRequest)
		return
	}

	// The response target comes from the request's Destination attribute,
	// falling back to the registered SLO URL. Neither present is a hard
	// failure, not a silent no-op.
	destination := logoutRequest.Destination
	if destination == "" {
		destination = sp.SLOURL
	}
	if destination == "" {
		http.Error(w, "No logout destination: request carries no Destination and application has no SLO URL", http.StatusBadRequest)
		return
	}

	h.directory.EndSession(r.Context(), w, r)

	issuer := h.entityID(sp)
	logoutResponse := NewLogoutResponse(issuer, destination, logoutRequest.ID, true)

	key, err := ParseRSAPrivateKey(sp.IdPPrivateKey)
	if err != nil {
		http.Error(w, "Failed to load signing key", http.StatusInternalServerError)
		return
	}
	cert, err := ParseCertificate(sp.IdPCertificate)
	if err != nil {
		http.Error(w, "Failed to load signing certificate", http.StatusInternalServerError)
		return
	}

	h.log.WithFields(logrus.Fields{
		"entity_id": sp.EntityID,
		"request":   logoutRequest.ID,
		"binding":   string(binding),
	}).Info("completed SAML logout")

	// Mirror the inbound binding: Redirect gets a detached query signature,
	// POST gets the signed status document in an auto-submit form.
	switch binding {
	case BindingRedirect:
		target, err := BuildSignedRedirectURL(destination, logoutResponse, "SAMLResponse", relayState, key)
		if err != nil {
			http.Error(w, "Failed to build redirect: "+err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	default:
		signedXML, err := SignLogoutResponse(logoutResponse, key, cert.Raw)
		if err != nil {
			http.Error(w, "Failed to sign logout response", http.StatusInternalServerError)
			return
		}
		form, err := PostForm(destination, "SAMLResponse", EncodePostRaw(signedXML), relayState)
		if err != nil {
			http.Error(w, "Failed to generate POST form: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, form)
	}
}
