// Command token mints a bearer token for the attendance API using the same
// JWT_* settings as the server.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"attendancesvc/internal/auth"
	"attendancesvc/internal/config"
)

func main() {
	cfg := config.Load()

	subject := flag.String("sub", "", "token subject, e.g. a kiosk or user id")
	role := flag.String("role", "client", "role claim")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: token -sub <subject> [-role client] [-ttl 12h]")
		os.Exit(2)
	}

	tok, err := auth.Issue(*subject, *role, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok.AccessToken)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
}
