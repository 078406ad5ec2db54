package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/config"
	"issuance-backend/internal/handlers"
)

// Prints a wallet or admin session token for local API testing.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	address := flag.String("address", "0x742d35Cc6634C0532925a3b0F26750C66d78EB66", "wallet address the token is issued for")
	admin := flag.String("admin", "", "issue an admin token for this username instead")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.AppConfig

	var (
		tokenString string
		expires     time.Time
		err         error
	)
	if *admin != "" {
		if cfg.Admin.JWTSecret == "" {
			fmt.Println("admin.jwtSecret is not configured")
			os.Exit(1)
		}
		tokenString, err = handlers.GenerateAdminJWTToken([]byte(cfg.Admin.JWTSecret), *admin, *ttl)
		expires = time.Now().Add(*ttl)
	} else {
		if !common.IsHexAddress(*address) {
			fmt.Printf("Invalid address: %s\n", *address)
			os.Exit(1)
		}
		if cfg.Auth.JWTSecret == "" {
			fmt.Println("auth.jwtSecret is not configured")
			os.Exit(1)
		}
		tokenString, expires, err = handlers.GenerateJWTToken([]byte(cfg.Auth.JWTSecret), common.HexToAddress(*address), *ttl)
	}
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(tokenString)
	fmt.Println()
	if *admin != "" {
		fmt.Printf("  Admin: %s\n", *admin)
	} else {
		fmt.Printf("  User Address: %s\n", common.HexToAddress(*address).Hex())
	}
	fmt.Printf("  Expires: %s\n", expires.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:%d/api/vault\n", tokenString, cfg.Server.Port)
}
