// Command tokengen prints a bearer token accepted by the task API.
//
//	JWT_SECRET=... tokengen -sub svc:ci -scopes tasks:read -ttl 1h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
)

func main() {
	var (
		sub    = flag.String("sub", "svc:interviewer", "token subject")
		iss    = flag.String("iss", envOr("JWT_ISSUER", "wovenlight-dev"), "issuer")
		aud    = flag.String("aud", envOr("JWT_AUD", "wovenlight-api"), "audience")
		alg    = flag.String("alg", envOr("JWT_ALG", "HS256"), "signing algorithm (HS256, HS384, HS512)")
		ttl    = flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
		scopes = flag.String("scopes", strings.Join(auth.AllScopes, ","), "comma separated scopes")
	)
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(2)
	}

	v, err := auth.NewVerifier(auth.Config{Enabled: true, Secret: secret, Algorithm: *alg, Issuer: *iss, Audience: *aud})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
	tok, err := v.Sign(*sub, splitScopes(*scopes), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}
