package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/sdko-org/knock-portal/internal/config"
	"github.com/sdko-org/knock-portal/internal/duration"
	"github.com/sdko-org/knock-portal/internal/engine"
	"github.com/sdko-org/knock-portal/internal/models"
	"github.com/sdko-org/knock-portal/internal/store"
	"github.com/sirupsen/logrus"
)

// Portal serves the self-service and admin JSON API. The requester's
// identity and address come from the authenticating reverse proxy
// headers, the same way the portal is meant to be deployed behind
// Cloudflare Access.
type Portal struct {
	cfg     *config.Config
	engine  *engine.Engine
	options []duration.Option
	log     *logrus.Entry
}

func NewPortal(logger *logrus.Logger, cfg *config.Config, eng *engine.Engine) *Portal {
	return &Portal{
		cfg:     cfg,
		engine:  eng,
		options: duration.Options(cfg.ExpirationOptions),
		log:     logger.WithField("component", "portal"),
	}
}

type indexResponse struct {
	Title    string               `json:"title"`
	Identity string               `json:"identity"`
	Address  string               `json:"address"`
	IPv6     bool                 `json:"ipv6"`
	Entries  []models.AccessEntry `json:"entries"`
	Options  []duration.Option    `json:"options"`
}

func (p *Portal) HandleIndex(w http.ResponseWriter, r *http.Request) {
	identity := requesterIdentity(r)
	address := requesterAddress(r)

	var ipv6 bool
	if addr, err := netip.ParseAddr(address); err == nil {
		ipv6 = addr.Is6() && !addr.Is4In6()
	}

	entries, err := p.engine.Entries(r.Context(), identity)
	if err != nil {
		p.log.WithError(err).Error("Failed to list entries")
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	writeJSON(w, http.StatusOK, indexResponse{
		Title:    p.cfg.Title,
		Identity: identity,
		Address:  address,
		IPv6:     ipv6,
		Entries:  entries,
		Options:  p.options,
	})
}

type knockRequest struct {
	Duration string `json:"duration"`
}

func (p *Portal) HandleKnock(w http.ResponseWriter, r *http.Request) {
	var req knockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity := requesterIdentity(r)
	address := requesterAddress(r)

	result, err := p.engine.Grant(r.Context(), identity, address, req.Duration)
	switch {
	case errors.Is(err, engine.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "invalid address")
	case err != nil:
		p.log.WithError(err).WithField("address", address).Error("Grant failed")
		writeError(w, http.StatusBadGateway, "failed to update allow list, please try again")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(result)})
	}
}

type revokeRequest struct {
	Address string `json:"address"`
}

func (p *Portal) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := p.engine.Revoke(r.Context(), req.Address)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no entry for address")
	case err != nil:
		p.log.WithError(err).WithField("address", req.Address).Error("Revoke failed")
		writeError(w, http.StatusBadGateway, "failed to update allow list, please try again")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

type extendRequest struct {
	Address  string `json:"address"`
	Duration string `json:"duration"`
}

func (p *Portal) HandleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := p.engine.Extend(r.Context(), req.Address, req.Duration)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no entry for address")
	case err != nil:
		p.log.WithError(err).WithField("address", req.Address).Error("Extend failed")
		writeError(w, http.StatusInternalServerError, "failed to extend entry")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
	}
}

func (p *Portal) HandleAdminEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := p.engine.AllEntries(r.Context())
	if err != nil {
		p.log.WithError(err).Error("Failed to list entries")
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func requesterIdentity(r *http.Request) string {
	if identity := r.Header.Get("Cf-Access-Authenticated-User-Email"); identity != "" {
		return identity
	}
	return "test@example.com"
}

func requesterAddress(r *http.Request) string {
	if ip := r.Header.Get("Cf-Connecting-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}
