// Command admin-token issues bearer tokens for the admin API and
// generates backup encryption keys.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/security"
	"github.com/joho/godotenv"
)

func main() {
	operator := flag.String("operator", "", "name recorded as the token subject")
	backupKey := flag.Bool("backup-key", false, "print a new base64 backup encryption key and exit")
	flag.Parse()

	if *backupKey {
		key, err := security.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(base64.StdEncoding.EncodeToString(key))
		return
	}

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "-operator is required")
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Admin.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	manager := security.NewJWTManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL, cfg.Admin.Issuer)
	token, expiresAt, err := manager.GenerateAdminToken(*operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
}
