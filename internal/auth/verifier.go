// Package auth provides JWT verification and route permissions.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bustrack/internal/model"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	ModeDev  = "dev"
	ModeHMAC = "hmac"
	ModeJWKS = "jwks"

	RoleAdmin = "admin"
)

type Config struct {
	Mode        string
	HMACSecret  string
	JWKSURL     string
	RoleClaim   string
	NameClaim   string
	RoutesClaim string
	CacheTTL    time.Duration
}

// Verifier validates JWTs and extracts role and route claims.
// Supports modes: dev (no verify), hmac (HS256), jwks (RS256 from JWKS URL).
type Verifier struct {
	cfg       Config
	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Principal is the caller behind a request or connection.
type Principal struct {
	Subject string
	Name    string
	Role    string // admin, manager, driver
	Routes  []model.ID
}

func NewVerifier(cfg Config) *Verifier {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeDev
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	if cfg.RoutesClaim == "" {
		cfg.RoutesClaim = "routes"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Verifier{cfg: cfg, http: &http.Client{Timeout: 5 * time.Second}}
}

func (v *Verifier) Mode() string { return v.cfg.Mode }

// Verify checks token and returns its principal. Failures wrap ErrUnauthorized.
func (v *Verifier) Verify(token string) (Principal, error) {
	if v.cfg.Mode == ModeDev {
		return parseDevToken(token)
	}
	var opts []jwt.ParserOption
	var keyFunc jwt.Keyfunc
	switch v.cfg.Mode {
	case ModeHMAC:
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		keyFunc = func(*jwt.Token) (any, error) { return []byte(v.cfg.HMACSecret), nil }
	case ModeJWKS:
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.rsaPublicKey(kid)
		}
	default:
		return Principal{}, fmt.Errorf("%w: unsupported auth mode %q", ErrUnauthorized, v.cfg.Mode)
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, opts...); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sub, _ := claims.GetSubject()
	role, _ := claims[v.cfg.RoleClaim].(string)
	name, _ := claims[v.cfg.NameClaim].(string)
	if role == "" {
		role = string(model.RoleDriver)
	}
	return Principal{
		Subject: sub,
		Name:    name,
		Role:    strings.ToLower(role),
		Routes:  routesClaim(claims[v.cfg.RoutesClaim]),
	}, nil
}

// parseDevToken accepts role:subject[:route,route...].
func parseDevToken(token string) (Principal, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return Principal{}, fmt.Errorf("%w: invalid dev token; expected role:subject[:routes]", ErrUnauthorized)
	}
	p := Principal{Role: strings.ToLower(parts[0]), Subject: parts[1]}
	if len(parts) == 3 {
		for _, r := range strings.Split(parts[2], ",") {
			if r = strings.TrimSpace(r); r != "" {
				p.Routes = append(p.Routes, model.ID(r))
			}
		}
	}
	return p, nil
}

// routesClaim accepts a single id or a list, each a string or number.
func routesClaim(v any) []model.ID {
	var out []model.ID
	add := func(x any) {
		switch t := x.(type) {
		case string:
			if t != "" {
				out = append(out, model.ID(t))
			}
		case float64:
			out = append(out, model.ID(fmt.Sprint(t)))
		case json.Number:
			out = append(out, model.ID(t.String()))
		}
	}
	if list, ok := v.([]any); ok {
		for _, x := range list {
			add(x)
		}
		return out
	}
	add(v)
	return out
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanWatchRoute reports whether p may subscribe to route traffic.
func (p Principal) CanWatchRoute(route model.ID) bool {
	if p.IsAdmin() {
		return true
	}
	for _, r := range p.Routes {
		if r == route {
			return true
		}
	}
	return false
}

func (v *Verifier) rsaPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cfg.CacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return k, nil
	}
	if err := v.fetchJWKS(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	k, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.New("kid not found in JWKS")
	}
	return k, nil
}

func (v *Verifier) fetchJWKS() error {
	if v.cfg.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	resp, err := v.http.Get(v.cfg.JWKSURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	keys := map[string]*rsa.PublicKey{}
	for _, k := range j.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return err
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(new(big.Int).SetBytes(eBytes).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
