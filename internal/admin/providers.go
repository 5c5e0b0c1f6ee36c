package admin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seatworks/seatidp/internal/protocols/saml"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

// metadataFetchTimeout bounds the SP metadata retrieval round trip.
const metadataFetchTimeout = 3 * time.Second

type providerRequest struct {
	Name         string `json:"name"`
	EntityID     string `json:"entity_id"`
	ACSURL       string `json:"acs_url"`
	SLOURL       string `json:"slo_url"`
	Certificate  string `json:"certificate"`
	MetadataURL  string `json:"metadata_url"`
	NameIDFormat string `json:"name_id_format"`
	IsActive     *bool  `json:"is_active"`
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListSamlProviders(r.Context())
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, providers)
}

// handleCreateProvider registers a SAML application. The administrator
// either supplies entity_id/acs_url directly or a metadata_url to fetch and
// parse. The application's IdP signing keypair is generated here, once; it
// has no rotation flow, only delete-and-recreate.
func (h *Handler) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	if req.MetadataURL != "" {
		meta, err := h.fetchSPMetadata(r.Context(), req.MetadataURL)
		if err != nil {
			h.apiError(w, http.StatusBadRequest, "metadata_fetch_failed", err.Error())
			return
		}
		req.EntityID = meta.EntityID
		req.ACSURL = meta.ACSURL
		if req.SLOURL == "" {
			req.SLOURL = meta.SLOURL
		}
		if req.Certificate == "" {
			req.Certificate = meta.Certificate
		}
		if req.NameIDFormat == "" {
			req.NameIDFormat = meta.NameIDFormat
		}
	}

	if req.EntityID == "" || req.ACSURL == "" {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "entity_id and acs_url are required (directly or via metadata_url)")
		return
	}
	if req.Certificate != "" {
		if _, err := saml.ParseCertificate(req.Certificate); err != nil {
			h.apiError(w, http.StatusBadRequest, "invalid_request", "certificate: "+err.Error())
			return
		}
	}
	if req.NameIDFormat == "" {
		req.NameIDFormat = saml.NameIDFormatUnspecified
	}

	idpCert, idpKey, err := saml.GenerateIdPCredentials(req.Name)
	if err != nil {
		h.log.WithError(err).Error("IdP credential generation failed")
		h.apiError(w, http.StatusInternalServerError, "internal_error", "failed to generate signing credentials")
		return
	}

	sp := &models.SamlProvider{
		Name:           req.Name,
		EntityID:       req.EntityID,
		ACSURL:         req.ACSURL,
		SLOURL:         req.SLOURL,
		Certificate:    req.Certificate,
		MetadataURL:    req.MetadataURL,
		NameIDFormat:   req.NameIDFormat,
		IsActive:       true,
		IdPCertificate: idpCert,
		IdPPrivateKey:  idpKey,
	}
	if req.IsActive != nil {
		sp.IsActive = *req.IsActive
	}

	if err := h.store.CreateSamlProvider(r.Context(), sp); err != nil {
		h.storageError(w, err)
		return
	}

	h.log.WithField("entity_id", sp.EntityID).Info("registered SAML application")
	h.writeJSON(w, http.StatusCreated, sp)
}

func (h *Handler) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	sp, err := h.providerFromPath(r)
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sp)
}

// handleUpdateProvider changes registration fields. The IdP signing keypair
// is immutable; it is never touched here.
func (h *Handler) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	sp, err := h.providerFromPath(r)
	if err != nil {
		h.storageError(w, err)
		return
	}

	var req providerRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Name != "" {
		sp.Name = req.Name
	}
	if req.EntityID != "" {
		sp.EntityID = req.EntityID
	}
	if req.ACSURL != "" {
		sp.ACSURL = req.ACSURL
	}
	if req.SLOURL != "" {
		sp.SLOURL = req.SLOURL
	}
	if req.Certificate != "" {
		if _, err := saml.ParseCertificate(req.Certificate); err != nil {
			h.apiError(w, http.StatusBadRequest, "invalid_request", "certificate: "+err.Error())
			return
		}
		sp.Certificate = req.Certificate
	}
	if req.NameIDFormat != "" {
		sp.NameIDFormat = req.NameIDFormat
	}
	if req.IsActive != nil {
		sp.IsActive = *req.IsActive
	}

	if err := h.store.UpdateSamlProvider(r.Context(), sp); err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sp)
}

func (h *Handler) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	sp, err := h.providerFromPath(r)
	if err != nil {
		h.storageError(w, err)
		return
	}
	if err := h.store.DeleteSamlProvider(r.Context(), sp.ID); err != nil {
		h.storageError(w, err)
		return
	}
	h.log.WithField("entity_id", sp.EntityID).Info("deleted SAML application")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) providerFromPath(r *http.Request) (*models.SamlProvider, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return h.store.GetSamlProvider(r.Context(), id)
}

// fetchSPMetadata retrieves and parses a service provider's metadata
// document. Only HTTPS URLs resolving to public addresses are fetched; the
// address check happens at dial time so a DNS answer cannot be swapped
// between validation and connection.
func (h *Handler) fetchSPMetadata(ctx context.Context, metadataURL string) (*saml.SPMetadata, error) {
	u, err := url.Parse(metadataURL)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata URL: %w", err)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("metadata URL must use https")
	}

	dialer := &net.Dialer{Timeout: metadataFetchTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if !publicIP(ip.IP) {
					return nil, fmt.Errorf("metadata host resolves to a non-public address")
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
	}
	client := &http.Client{
		Timeout:   metadataFetchTimeout,
		Transport: transport,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return saml.ParseSPMetadata(body)
}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified())
}
