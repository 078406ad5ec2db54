package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"issuance-backend/internal/handlers"
)

func main() {
	username := flag.String("username", "admin", "admin username")
	password := flag.String("password", "", "also print a bcrypt hash for this password")
	code := flag.Bool("code", false, "print the current code for ADMIN_TOTP_SECRET instead of creating a secret")
	flag.Parse()

	if *code {
		secret := os.Getenv("ADMIN_TOTP_SECRET")
		if secret == "" {
			fmt.Println("ADMIN_TOTP_SECRET is not set")
			os.Exit(1)
		}
		// 生成当前 TOTP code
		current, err := totp.GenerateCode(secret, time.Now())
		if err != nil {
			fmt.Printf("Error generating TOTP code: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Current TOTP Code: %s\n", current)
		fmt.Printf("Valid for: ~30 seconds\n")
		return
	}

	key, err := handlers.GenerateTOTPKey(*username)
	if err != nil {
		fmt.Printf("Error generating TOTP secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Secret:   %s\n", key.Secret())
	fmt.Printf("QR URL:   %s\n", key.URL())
	fmt.Printf("Config:   admin.totpSecret: %q\n", key.Secret())

	if *password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Printf("Error hashing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config:   admin.passwordHash: %q\n", string(hash))
	}
}
