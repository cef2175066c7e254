package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookieName = "admin_session"
	sessionLifetime   = 12 * time.Hour
)

type adminLoginRequest struct {
	Password string `json:"password"`
}

// HandleAdminLogin checks the shared admin secret and on success sets a
// signed session cookie. The endpoint is rate limited per client IP by
// LoginRateLimitMiddleware.
func (p *Portal) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(p.cfg.AdminPassword)) != 1 {
		p.log.WithField("client_ip", requesterAddress(r)).Warn("Rejected admin login")
		writeError(w, http.StatusUnauthorized, "invalid admin password")
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.SecretKey))
	if err != nil {
		p.log.WithError(err).Error("Failed to sign admin session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(sessionLifetime),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	p.log.WithField("client_ip", requesterAddress(r)).Info("Admin logged in")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *Portal) HandleAdminLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// RequireAdmin gates a handler behind a valid admin session cookie.
func (p *Portal) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "admin login required")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(p.cfg.SecretKey), nil
		})
		if err != nil || !token.Valid || claims.Subject != "admin" {
			writeError(w, http.StatusUnauthorized, "admin login required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
