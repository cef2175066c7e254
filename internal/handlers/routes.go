package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sdko-org/knock-portal/internal/config"
)

func RegisterRoutes(r *mux.Router, cfg *config.Config, p *Portal) {
	loginLimit := LoginRateLimitMiddleware(cfg)

	r.HandleFunc("/", p.HandleIndex).Methods("GET")
	r.HandleFunc("/knock", p.HandleKnock).Methods("POST")
	r.Handle("/admin/login", loginLimit(http.HandlerFunc(p.HandleAdminLogin))).Methods("POST")
	r.HandleFunc("/admin/logout", p.HandleAdminLogout).Methods("GET")
	r.Handle("/admin/entries", p.RequireAdmin(http.HandlerFunc(p.HandleAdminEntries))).Methods("GET")
	r.Handle("/admin/revoke", p.RequireAdmin(http.HandlerFunc(p.HandleRevoke))).Methods("POST")
	r.Handle("/admin/extend", p.RequireAdmin(http.HandlerFunc(p.HandleExtend))).Methods("POST")
}
