// Package auth verifies HMAC-signed JWT bearer tokens and enforces scopes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated maps to 401.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden maps to 403.
	ErrForbidden = errors.New("forbidden")
)

// Error carries the client-facing detail of a rejected request.
type Error struct {
	Kind   error // ErrUnauthenticated or ErrForbidden
	Detail string
}

func (e *Error) Error() string        { return e.Detail }
func (e *Error) Is(target error) bool { return target == e.Kind }

func unauthenticated(format string, args ...any) error {
	return &Error{Kind: ErrUnauthenticated, Detail: fmt.Sprintf(format, args...)}
}

// Scopes used by the task API.
const (
	ScopeCreate = "tasks:create"
	ScopeRead   = "tasks:read"
	ScopeUpdate = "tasks:update"
	ScopeDelete = "tasks:delete"
)

// AllScopes is every scope the API checks.
var AllScopes = []string{ScopeCreate, ScopeRead, ScopeUpdate, ScopeDelete}

type Config struct {
	// Enabled false lets every request through as an anonymous principal.
	Enabled   bool
	Secret    string
	Algorithm string // HS256 (default), HS384, HS512
	Issuer    string // checked when set
	Audience  string // checked when set
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// Principal is the verified caller.
type Principal struct {
	Subject string
	Scopes  []string
	Claims  jwt.MapClaims
}

func (p Principal) HasScope(s string) bool { return slices.Contains(p.Scopes, s) }

// Verifier checks tokens against one Config.
type Verifier struct {
	cfg    Config
	method jwt.SigningMethod
	now    func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	m := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := m.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q (HS256, HS384, HS512)", cfg.Algorithm)
	}
	if cfg.Enabled && cfg.Secret == "" {
		return nil, errors.New("jwt secret is required when auth is enabled")
	}
	return &Verifier{cfg: cfg, method: m, now: time.Now}, nil
}

// WithClock returns a copy of v using now as the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

func (v *Verifier) Enabled() bool { return v != nil && v.cfg.Enabled }

// Authenticate reads the bearer token from r and verifies it, then checks
// that every scope in required is granted. A nil Verifier denies every
// request; anonymous access needs a Verifier built with auth disabled.
func (v *Verifier) Authenticate(r *http.Request, required ...string) (Principal, error) {
	if v == nil {
		return Principal{}, unauthenticated("Authentication not configured")
	}
	if !v.cfg.Enabled {
		return Principal{Subject: "anonymous", Scopes: AllScopes}, nil
	}
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return Principal{}, unauthenticated("Missing bearer token")
	}
	p, err := v.Verify(strings.TrimSpace(h[len("Bearer "):]))
	if err != nil {
		return Principal{}, err
	}
	var missing []string
	for _, s := range required {
		if !p.HasScope(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return Principal{}, &Error{Kind: ErrForbidden, Detail: "Missing scopes: " + strings.Join(missing, ", ")}
	}
	if p.Subject == "" {
		return Principal{}, unauthenticated("Token missing subject")
	}
	return p, nil
}

// Verify validates signature, required time claims, issuer and audience.
// It does not check scopes or subject.
func (v *Verifier) Verify(raw string) (Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.method.Alg()}),
		// exp/nbf/iss/aud are checked below so the error detail stays specific.
		jwt.WithoutClaimsValidation(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	}); err != nil {
		return Principal{}, unauthenticated("Invalid token: %v", err)
	}

	now := v.now()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Principal{}, unauthenticated("Invalid token: missing or malformed exp claim")
	}
	if iat, err := claims.GetIssuedAt(); err != nil || iat == nil {
		return Principal{}, unauthenticated("Invalid token: missing or malformed iat claim")
	}
	if now.After(exp.Add(v.cfg.Leeway)) {
		return Principal{}, unauthenticated("Token expired")
	}
	if nbf, err := claims.GetNotBefore(); err != nil {
		return Principal{}, unauthenticated("Invalid token: malformed nbf claim")
	} else if nbf != nil && now.Add(v.cfg.Leeway).Before(nbf.Time) {
		return Principal{}, unauthenticated("Token not yet valid")
	}

	if v.cfg.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != v.cfg.Issuer {
			return Principal{}, unauthenticated("Invalid issuer")
		}
	}
	if v.cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		if !slices.Contains(aud, v.cfg.Audience) {
			return Principal{}, unauthenticated("Invalid audience")
		}
	}

	sub, _ := claims.GetSubject()
	return Principal{Subject: sub, Scopes: scopesOf(claims), Claims: claims}, nil
}

// scopesOf reads scp (list) or, failing that, scope (space separated).
func scopesOf(c jwt.MapClaims) []string {
	if list, ok := c["scp"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, s := range list {
			out = append(out, fmt.Sprint(s))
		}
		return out
	}
	if s, ok := c["scope"].(string); ok {
		return strings.Fields(s)
	}
	return nil
}

// Sign issues a token for subject with the given scopes, valid for ttl.
func (v *Verifier) Sign(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"scope": strings.Join(scopes, " "),
	}
	if v.cfg.Issuer != "" {
		claims["iss"] = v.cfg.Issuer
	}
	if v.cfg.Audience != "" {
		claims["aud"] = v.cfg.Audience
	}
	return jwt.NewWithClaims(v.method, claims).SignedString([]byte(v.cfg.Secret))
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
