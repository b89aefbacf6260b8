// Command token mints an API bearer token for a user id. Sign-in is handled
// outside this service; operators use this for scripts and local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/service"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", service.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	token, err := mint(cfg.Auth, *userID, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mint(auth config.AuthConfig, userID, name string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("-user is required")
	}
	return service.NewTokenService(auth.JWTSecret, auth.Issuer).Issue(userID, name, ttl)
}
