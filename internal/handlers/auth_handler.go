package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"issuance-backend/internal/config"
)

// JWTClaims wallet session claims
type JWTClaims struct {
	UserAddress string `json:"user_address"`
	jwt.RegisteredClaims
}

// NonceRequest asks for a login challenge
type NonceRequest struct {
	Address string `json:"address" binding:"required"`
}

// LoginRequest answers a challenge with a personal_sign signature
type LoginRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type pendingNonce struct {
	message   string
	expiresAt time.Time
}

// AuthHandler issues wallet session tokens. Each nonce is single use.
type AuthHandler struct {
	secret   []byte
	tokenTTL time.Duration
	nonceTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	nonces map[common.Address]pendingNonce
}

// NewAuthHandler create auth handler
func NewAuthHandler(cfg config.AuthConfig) *AuthHandler {
	if cfg.JWTSecret == "" {
		log.Printf("⚠️ auth.jwtSecret is empty, wallet login is disabled")
	}
	return &AuthHandler{
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: cfg.TokenTTL(),
		nonceTTL: cfg.NonceTTL(),
		now:      time.Now,
		nonces:   make(map[common.Address]pendingNonce),
	}
}

// GenerateNonceHandler POST /api/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	var req NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		badRequest(c, "INVALID_ADDRESS", "Invalid address: "+req.Address)
		return
	}
	address := common.HexToAddress(req.Address)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate nonce",
			"code":    "NONCE_FAILED",
		})
		return
	}
	nonceStr := hex.EncodeToString(nonce)
	now := h.now()
	message := loginMessage(address, nonceStr, now)

	h.mu.Lock()
	h.evictExpired(now)
	h.nonces[address] = pendingNonce{message: message, expiresAt: now.Add(h.nonceTTL)}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"nonce":      nonceStr,
		"message":    message,
		"timestamp":  now.Unix(),
		"expires_at": now.Add(h.nonceTTL).Unix(),
	})
}

// LoginHandler POST /api/auth/login
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	if len(h.secret) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Wallet login is not configured",
			"code":    "AUTH_DISABLED",
		})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		badRequest(c, "INVALID_ADDRESS", "Invalid address: "+req.Address)
		return
	}
	address := common.HexToAddress(req.Address)

	h.mu.Lock()
	pending, ok := h.nonces[address]
	delete(h.nonces, address)
	h.mu.Unlock()

	if !ok || h.now().After(pending.expiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "No pending login for this address, request a new nonce",
			"code":    "NONCE_EXPIRED",
		})
		return
	}

	signer, err := RecoverSigner(pending.message, req.Signature)
	if err != nil || signer != address {
		log.Printf("❌ Login signature rejected for %s: signer=%s err=%v", address.Hex(), signer.Hex(), err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Signature does not match address",
			"code":    "INVALID_SIGNATURE",
		})
		return
	}

	token, expiresAt, err := GenerateJWTToken(h.secret, address, h.tokenTTL)
	if err != nil {
		log.Printf("❌ Failed to sign session token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate token",
			"code":    "TOKEN_FAILED",
		})
		return
	}

	log.Printf("✅ Wallet login: %s", address.Hex())
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"address":    address.Hex(),
		"expires_at": expiresAt.Unix(),
	})
}

func (h *AuthHandler) evictExpired(now time.Time) {
	for addr, pending := range h.nonces {
		if now.After(pending.expiresAt) {
			delete(h.nonces, addr)
		}
	}
}

func loginMessage(address common.Address, nonce string, at time.Time) string {
	return fmt.Sprintf("Issuance Backend Authentication\nAddress: %s\nNonce: %s\nTimestamp: %d", address.Hex(), nonce, at.Unix())
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// GenerateJWTToken signs a wallet session token for address.
func GenerateJWTToken(secret []byte, address common.Address, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := JWTClaims{
		UserAddress: address.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "issuance-backend",
			Subject:   address.Hex(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateJWTToken verifies a wallet session token.
func ValidateJWTToken(secret []byte, tokenString string) (*JWTClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session tokens are not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.UserAddress) {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
