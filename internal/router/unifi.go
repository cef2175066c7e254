package router

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sdko-org/knock-portal/internal/config"
	"github.com/sirupsen/logrus"
)

// tokenExpirySkew is the margin before token expiry at which the client
// re-authenticates, so a token cannot expire mid-request.
const tokenExpirySkew = 30 * time.Second

type unifiClient struct {
	httpClient *http.Client
	cfg        *config.Config
	log        *logrus.Entry

	mu        sync.Mutex
	csrfToken string
	tokenExp  time.Time
}

type firewallGroup struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name"`
	Type    string   `json:"group_type"`
	Members []string `json:"group_members"`
	SiteID  string   `json:"site_id"`
}

type firewallGroupResponse struct {
	Data []firewallGroup `json:"data"`
}

type loggingTransport struct {
	log  *logrus.Entry
	next http.RoundTripper
}

func newUnifiClient(logger *logrus.Logger, cfg *config.Config) *unifiClient {
	transport := &http.Transport{}
	if !cfg.UnifiTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		logger.WithField("component", "unifi_client").
			Warn("TLS verification toward the controller is disabled")
	}

	// Cookie jar holds the controller session cookie across calls.
	jar, _ := cookiejar.New(nil)

	return &unifiClient{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
			Transport: &loggingTransport{
				log:  logger.WithField("component", "unifi_transport"),
				next: transport,
			},
		},
		cfg: cfg,
		log: logger.WithField("component", "unifi_client"),
	}
}

// login authenticates against the controller and captures the session's
// anti-forgery token and expiry from the TOKEN cookie JWT. On any
// failure the previous session state is left in place. Callers must
// hold c.mu.
func (c *unifiClient) login(ctx context.Context) error {
	start := time.Now()
	log := c.log.WithField("operation", "login")

	payload, _ := json.Marshal(map[string]any{
		"username": c.cfg.UnifiUsername,
		"password": c.cfg.UnifiPassword,
		"remember": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.UnifiBaseURL+"/api/auth/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: building login request: %v", ErrUnauthenticated, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("Login request failed")
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status_code", resp.StatusCode).Error("Login rejected")
		return fmt.Errorf("%w: login returned status %d", ErrUnauthenticated, resp.StatusCode)
	}

	tokenCookie := c.sessionToken()
	if tokenCookie == "" {
		return fmt.Errorf("%w: no TOKEN cookie in login response", ErrUnauthenticated)
	}

	// The controller signs the JWT; we only read its claims.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenCookie, claims); err != nil {
		return fmt.Errorf("%w: decoding session token: %v", ErrUnauthenticated, err)
	}

	csrfToken, _ := claims["csrfToken"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: session token has no expiry", ErrUnauthenticated)
	}

	c.csrfToken = csrfToken
	c.tokenExp = exp.Time

	log.WithFields(logrus.Fields{
		"duration":     time.Since(start),
		"token_expiry": c.tokenExp,
	}).Debug("Controller session established")
	return nil
}

func (c *unifiClient) sessionToken() string {
	base, err := url.Parse(c.cfg.UnifiBaseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(base) {
		if cookie.Name == "TOKEN" {
			return cookie.Value
		}
	}
	return ""
}

func (c *unifiClient) EnsureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureAuthenticatedLocked(ctx)
}

func (c *unifiClient) ensureAuthenticatedLocked(ctx context.Context) error {
	if !c.tokenExp.IsZero() && time.Now().Before(c.tokenExp.Add(-tokenExpirySkew)) {
		return nil
	}
	return c.login(ctx)
}

func (c *unifiClient) groupURL() string {
	return fmt.Sprintf("%s/proxy/network/api/s/%s/rest/firewallgroup/%s",
		c.cfg.UnifiBaseURL, c.cfg.UnifiSite, c.cfg.UnifiGroupID)
}

func (c *unifiClient) fetchGroup(ctx context.Context) (*firewallGroup, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.groupURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("building group request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching firewall group: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firewall group fetch returned status %d", resp.StatusCode)
	}

	var groupResp firewallGroupResponse
	if err := json.NewDecoder(resp.Body).Decode(&groupResp); err != nil {
		return nil, fmt.Errorf("decoding firewall group: %w", err)
	}
	if len(groupResp.Data) == 0 {
		return nil, fmt.Errorf("firewall group %s not found", c.cfg.UnifiGroupID)
	}
	return &groupResp.Data[0], nil
}

// putGroup submits the full replacement membership list. The API has no
// incremental add/remove.
func (c *unifiClient) putGroup(ctx context.Context, group *firewallGroup) error {
	payload, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encoding firewall group: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.groupURL(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building group update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-csrf-token", c.csrfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("updating firewall group: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("firewall group update returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *unifiClient) Add(ctx context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAuthenticatedLocked(ctx); err != nil {
		return false, err
	}

	group, err := c.fetchGroup(ctx)
	if err != nil {
		return false, err
	}

	for _, member := range group.Members {
		if member == address {
			return false, nil
		}
	}

	group.Members = append(group.Members, address)
	c.log.WithFields(logrus.Fields{
		"address": address,
		"group":   group.Name,
	}).Info("Adding address to firewall group")

	if err := c.putGroup(ctx, group); err != nil {
		return false, err
	}
	return true, nil
}

func (c *unifiClient) Remove(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureAuthenticatedLocked(ctx); err != nil {
		return err
	}

	group, err := c.fetchGroup(ctx)
	if err != nil {
		return err
	}

	members := group.Members[:0]
	for _, member := range group.Members {
		if member != address {
			members = append(members, member)
		}
	}
	if len(members) == len(group.Members) {
		return nil
	}
	group.Members = members

	c.log.WithFields(logrus.Fields{
		"address": address,
		"group":   group.Name,
	}).Info("Removing address from firewall group")

	return c.putGroup(ctx, group)
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
