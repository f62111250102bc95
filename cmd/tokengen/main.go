package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// tokengen mints an admin JWT for the management API. The signing secret is
// read from ADMIN_JWT_SECRET, never from a flag, so it stays out of shell
// history.
func main() {
	subject := flag.String("subject", "", "name of the operator the token is issued to")
	expiry := flag.Duration("expiry", 1*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -subject <operator> [-expiry 1h]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is required")
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(secret, *expiry)
	token, err := tokenManager.GenerateToken(*subject, models.RoleAdmin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
