package saml

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/directory"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

type samlEnv struct {
	store   *storage.Store
	router  chi.Router
	user    *models.User
	session string
}

func newSamlEnv(t *testing.T) *samlEnv {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	dir := directory.NewService(store, time.Hour, false, entry)
	claims := identity.NewProvider("sso.example")

	ctx := context.Background()
	user := &models.User{Name: "pilot", Active: true, Squads: []string{"recon", "logistics"}}
	require.NoError(t, store.CreateUser(ctx, user))

	session := &models.Session{
		ID:        crypto.RandomToken(32),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	router := chi.NewRouter()
	NewHandler(store, dir, claims, "https://idp.example", entry).Mount(router)

	return &samlEnv{store: store, router: router, user: user, session: session.ID}
}

func (e *samlEnv) createProvider(t *testing.T, mutate func(*models.SamlProvider)) *models.SamlProvider {
	t.Helper()
	cert, key, err := GenerateIdPCredentials("wiki")
	require.NoError(t, err)

	sp := &models.SamlProvider{
		Name:           "Wiki",
		EntityID:       "https://wiki.example/saml/metadata",
		ACSURL:         "https://wiki.example/saml/acs",
		NameIDFormat:   NameIDFormatUnspecified,
		IsActive:       true,
		IdPCertificate: cert,
		IdPPrivateKey:  key,
	}
	if mutate != nil {
		mutate(sp)
	}
	require.NoError(t, e.store.CreateSamlProvider(context.Background(), sp))
	return sp
}

func (e *samlEnv) withSession(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: directory.SessionCookie, Value: e.session})
	return r
}

func authnRequestXML(t *testing.T, id string) []byte {
	t.Helper()
	data, err := xml.Marshal(&AuthnRequest{ID: id, Version: "2.0", IssueInstant: TimeNow()})
	require.NoError(t, err)
	return data
}

var formValueRe = regexp.MustCompile(`name="SAMLResponse" value="([^"]+)"`)

func extractFormResponse(t *testing.T, body string) []byte {
	t.Helper()
	match := formValueRe.FindStringSubmatch(body)
	require.NotNil(t, match, "no SAMLResponse form field in body")
	decoded, err := DecodePost(match[1])
	require.NoError(t, err)
	return decoded
}

func TestMetadataEndpoint(t *testing.T) {
	env := newSamlEnv(t)
	sp := env.createProvider(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/saml/applications/1/metadata", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/samlmetadata+xml", rec.Header().Get("Content-Type"))

	var meta EntityDescriptor
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://idp.example/saml/applications/1/metadata", meta.EntityID)
	require.NotNil(t, meta.IDPSSODescriptor)
	assert.Equal(t, sp.IdPCertificate, meta.IDPSSODescriptor.KeyDescriptors[0].KeyInfo.X509Data.X509Certificate)
}

func TestSSOUnknownApplication(t *testing.T) {
	env := newSamlEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/saml/999/sso", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSODisabledApplication(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, func(sp *models.SamlProvider) { sp.IsActive = false })

	req := httptest.NewRequest(http.MethodGet, "/saml/1/sso", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSSORedirectsAnonymousToLogin(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, nil)

	encoded := EncodeRedirect(authnRequestXML(t, "_req-1"))
	req := httptest.NewRequest(http.MethodGet, "/saml/1/sso?SAMLRequest="+url.QueryEscape(encoded), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?next="))
}

func TestSSOPostBindingSurvivesLoginRoundTrip(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, nil)

	original := authnRequestXML(t, "_req-post")
	form := url.Values{"SAMLRequest": {EncodePostRaw(original)}, "RelayState": {"back-here"}}
	req := httptest.NewRequest(http.MethodPost, "/saml/1/sso", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	next, err := url.QueryUnescape(strings.TrimPrefix(rec.Header().Get("Location"), "/login?next="))
	require.NoError(t, err)

	parsed, err := url.Parse(next)
	require.NoError(t, err)
	assert.Equal(t, "back-here", parsed.Query().Get("RelayState"))

	// The POST payload was re-encoded into Redirect-binding form byte for
	// byte, so an embedded signature would still verify.
	roundTripped, err := DecodeRedirect(parsed.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	assert.Equal(t, original, roundTripped)
}

func TestSSOHonorsRequestACSOverride(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, nil)

	override := "https://wiki.example/saml/acs-override"
	data, err := xml.Marshal(&AuthnRequest{
		ID:                          "_req-77",
		Version:                     "2.0",
		IssueInstant:                TimeNow(),
		AssertionConsumerServiceURL: override,
	})
	require.NoError(t, err)

	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/sso?SAMLRequest="+url.QueryEscape(EncodeRedirect(data)), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="`+override+`"`)

	var response Response
	require.NoError(t, xml.Unmarshal(extractFormResponse(t, rec.Body.String()), &response))
	assert.Equal(t, override, response.Destination)
}

func TestSSOIssuesSignedResponse(t *testing.T) {
	env := newSamlEnv(t)
	sp := env.createProvider(t, nil)

	encoded := EncodeRedirect(authnRequestXML(t, "_req-42"))
	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/sso?SAMLRequest="+url.QueryEscape(encoded)+"&RelayState=rs1", nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), sp.ACSURL)

	raw := extractFormResponse(t, rec.Body.String())
	assert.Contains(t, string(raw), "SignatureValue")

	var response Response
	require.NoError(t, xml.Unmarshal(raw, &response))
	assert.Equal(t, "_req-42", response.InResponseTo)
	assert.Equal(t, StatusSuccess, response.Status.StatusCode.Value)
	require.Len(t, response.Assertions, 1)

	assertion := response.Assertions[0]
	assert.Equal(t, env.user.Name, assertion.Subject.NameID.Value)
	assert.Equal(t, NameIDFormatUnspecified, assertion.Subject.NameID.Format)
	assert.Equal(t, []string{sp.EntityID}, assertion.Conditions.AudienceRestriction.Audience)

	byName := map[string][]string{}
	for _, attr := range assertion.AttributeStatement.Attributes {
		for _, v := range attr.AttributeValues {
			byName[attr.Name] = append(byName[attr.Name], v.Value)
		}
	}
	assert.Equal(t, []string{"pilot"}, byName["name"])
	assert.Equal(t, []string{"recon", "logistics"}, byName["squads"])
	assert.Equal(t, []string{"false"}, byName["is_admin"])
}

func TestSSOTransientNameIDFreshPerResponse(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, func(sp *models.SamlProvider) { sp.NameIDFormat = NameIDFormatTransient })

	issue := func(reqID string) string {
		encoded := EncodeRedirect(authnRequestXML(t, reqID))
		req := env.withSession(httptest.NewRequest(http.MethodGet,
			"/saml/1/sso?SAMLRequest="+url.QueryEscape(encoded), nil))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var response Response
		require.NoError(t, xml.Unmarshal(extractFormResponse(t, rec.Body.String()), &response))
		return response.Assertions[0].Subject.NameID.Value
	}

	first := issue("_t1")
	second := issue("_t2")
	assert.True(t, strings.HasPrefix(first, "_"))
	assert.NotEqual(t, first, second)
}

func TestSSORequiresSignatureWhenCertRegistered(t *testing.T) {
	env := newSamlEnv(t)
	spCert, _, err := GenerateIdPCredentials("wiki-sp")
	require.NoError(t, err)
	env.createProvider(t, func(sp *models.SamlProvider) { sp.Certificate = spCert })

	encoded := EncodeRedirect(authnRequestXML(t, "_unsigned"))
	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/sso?SAMLRequest="+url.QueryEscape(encoded), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature")
}

func logoutRequestXML(t *testing.T, id, destination string) []byte {
	t.Helper()
	data, err := xml.Marshal(&LogoutRequest{
		ID:           id,
		Version:      "2.0",
		IssueInstant: TimeNow(),
		Destination:  destination,
	})
	require.NoError(t, err)
	return data
}

func TestSLORedirectBindingEndsSession(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, func(sp *models.SamlProvider) { sp.SLOURL = "https://wiki.example/saml/slo" })

	encoded := EncodeRedirect(logoutRequestXML(t, "_lo-1", ""))
	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/slo?SAMLRequest="+url.QueryEscape(encoded), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	target, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "wiki.example", target.Host)
	assert.NotEmpty(t, target.Query().Get("Signature"))

	raw, err := DecodeRedirect(target.Query().Get("SAMLResponse"))
	require.NoError(t, err)
	var response LogoutResponse
	require.NoError(t, xml.Unmarshal(raw, &response))
	assert.Equal(t, "_lo-1", response.InResponseTo)
	assert.Equal(t, StatusSuccess, response.Status.StatusCode.Value)

	_, err = env.store.GetSession(context.Background(), env.session)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSLORequestDestinationWinsOverRegistered(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, func(sp *models.SamlProvider) { sp.SLOURL = "https://wiki.example/saml/slo" })

	encoded := EncodeRedirect(logoutRequestXML(t, "_lo-2", "https://wiki.example/other/slo"))
	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/slo?SAMLRequest="+url.QueryEscape(encoded), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://wiki.example/other/slo?"))
}

func TestSLOWithoutDestinationFails(t *testing.T) {
	env := newSamlEnv(t)
	env.createProvider(t, nil)

	encoded := EncodeRedirect(logoutRequestXML(t, "_lo-3", ""))
	req := env.withSession(httptest.NewRequest(http.MethodGet,
		"/saml/1/slo?SAMLRequest="+url.QueryEscape(encoded), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSLOPostBindingReturnsSignedForm(t *testing.T) {
	env := newSamlEnv(t)
	sp := env.createProvider(t, func(sp *models.SamlProvider) { sp.SLOURL = "https://wiki.example/saml/slo" })

	form := url.Values{"SAMLRequest": {EncodePostRaw(logoutRequestXML(t, "_lo-4", ""))}}
	req := env.withSession(httptest.NewRequest(http.MethodPost, "/saml/1/slo", strings.NewReader(form.Encode())))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	raw := extractFormResponse(t, rec.Body.String())

	idpCert, err := ParseCertificate(sp.IdPCertificate)
	require.NoError(t, err)
	require.NoError(t, VerifyEmbeddedSignature(raw, idpCert))
}
