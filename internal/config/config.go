package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig        `yaml:"server"`
	Database   DatabaseConfig      `yaml:"database"`
	NATS       NATSConfig          `yaml:"nats"`
	CORS       CORSConfig          `yaml:"cors"`
	Admin      AdminConfig         `yaml:"admin"`
	Auth       AuthConfig          `yaml:"auth"`
	Settlement SettlementConfig    `yaml:"settlement"`
	Protocol   ProtocolConfig      `yaml:"protocol"`
	Tokens     []TokenConfig       `yaml:"tokens"`
	Assets     []AssetConfig       `yaml:"assets"`
	Roles      map[string][]string `yaml:"roles"` // role name -> member addresses
	KYC        []string            `yaml:"kyc"`
	Keeper     KeeperConfig        `yaml:"keeper"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
	// Requests per minute per client IP on the auth endpoints; 0 disables the limiter.
	AuthRateLimit  int      `yaml:"authRateLimit"`
	AuthRateBurst  int      `yaml:"authRateBurst"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// DatabaseConfig Database configuration. An empty DSN runs the service in memory only.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`        // seconds
	ReconnectWait   int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
	SubjectPrefix   string `yaml:"subject_prefix"` // settlement events are published under <prefix>.<component>.<event>
	KYCSubject      string `yaml:"kyc_subject"`    // compliance feed; empty disables the subscription
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"` // seconds
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs   []string `yaml:"allowedIPs"` // IP addresses or CIDR ranges
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"` // bcrypt
	TOTPSecret   string   `yaml:"totpSecret"`
	JWTSecret    string   `yaml:"jwtSecret"`
	Operator     string   `yaml:"operator"` // address admin operations are submitted as
}

// AuthConfig wallet session configuration
type AuthConfig struct {
	JWTSecret       string `yaml:"jwtSecret"`
	TokenTTLHours   int    `yaml:"tokenTTLHours"`
	NonceTTLSeconds int    `yaml:"nonceTTLSeconds"`
}

// SettlementConfig batch sealing and startup replay
type SettlementConfig struct {
	BatchIntervalMs int  `yaml:"batchIntervalMs"` // 0 disables the sealer
	ReplayOnStart   bool `yaml:"replayOnStart"`
}

// ProtocolConfig component addresses and initial parameters
type ProtocolConfig struct {
	Admin                  string `yaml:"admin"`
	MintToken              string `yaml:"mintToken"` // symbol or address of the gateway token, also the vault asset
	Vault                  string `yaml:"vault"`
	RedemptionQueue        string `yaml:"redemptionQueue"`
	Gateway                string `yaml:"gateway"`
	ShareSymbol            string `yaml:"shareSymbol"`
	RedemptionDelaySeconds int64  `yaml:"redemptionDelaySeconds"`
	Treasury               string `yaml:"treasury"`
	FeeTo                  string `yaml:"feeTo"`
	RedeemAsset            string `yaml:"redeemAsset"`   // symbol or address
	MintFeeRate            uint64 `yaml:"mintFeeRate"`   // basis points
	RedeemFeeRate          uint64 `yaml:"redeemFeeRate"` // basis points
	FirstDepositAmount     string `yaml:"firstDepositAmount"`
	MintMinimum            string `yaml:"mintMinimum"`
}

// TokenConfig reference token ledger and its genesis balances
type TokenConfig struct {
	Symbol   string            `yaml:"symbol"`
	Address  string            `yaml:"address"` // derived from the symbol when empty
	Decimals uint8             `yaml:"decimals"`
	Cap      string            `yaml:"cap"`
	Balances map[string]string `yaml:"balances"` // address -> amount in base units
}

// AssetConfig conversion registry seed entry
type AssetConfig struct {
	Token                 string `yaml:"token"` // symbol or address
	PriceFeed             string `yaml:"priceFeed"`
	MaxStalePeriodSeconds int64  `yaml:"maxStalePeriodSeconds"`
}

// KeeperConfig scheduled gateway queue processing
type KeeperConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"intervalSeconds"`
	Operator        string `yaml:"operator"`
	MaxPerRun       int    `yaml:"maxPerRun"` // 0 processes the whole queue
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	overrideFromEnv(config)

	fmt.Printf("📋 [Config] Protocol: vault=%s queue=%s gateway=%s, %d tokens, %d assets\n",
		orDerived(config.Protocol.Vault), orDerived(config.Protocol.RedemptionQueue), orDerived(config.Protocol.Gateway),
		len(config.Tokens), len(config.Assets))

	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(config.Admin.AllowedIPs))
		for i, ip := range config.Admin.AllowedIPs {
			fmt.Printf("   [%d] %s\n", i+1, ip)
		}
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}

	if len(config.CORS.AllowedOrigins) > 0 {
		fmt.Printf("📋 [Config] CORS allowed origins loaded: %d origins configured\n", len(config.CORS.AllowedOrigins))
	} else {
		fmt.Printf("📋 [Config] CORS: not configured (will allow all origins *)\n")
	}

	if config.Database.DSN == "" {
		fmt.Printf("📋 [Config] Database: no DSN, operations will not be persisted\n")
	}

	AppConfig = config
	return nil
}

// Parse decodes a YAML document and fills defaults. Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.NATS.Timeout == 0 {
		config.NATS.Timeout = 10
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 5
	}
	if config.NATS.MaxReconnects == 0 {
		config.NATS.MaxReconnects = -1
	}
	if config.NATS.StreamName == "" {
		config.NATS.StreamName = "ISSUANCE"
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "issuance"
	}
	if config.Server.AuthRateBurst == 0 {
		config.Server.AuthRateBurst = 5
	}
	if config.Auth.TokenTTLHours == 0 {
		config.Auth.TokenTTLHours = 24
	}
	if config.Auth.NonceTTLSeconds == 0 {
		config.Auth.NonceTTLSeconds = 300
	}
	if config.Admin.Username == "" {
		config.Admin.Username = "admin"
	}
	if config.Protocol.ShareSymbol == "" {
		config.Protocol.ShareSymbol = "sUSDX"
	}
	if config.Keeper.IntervalSeconds == 0 {
		config.Keeper.IntervalSeconds = 60
	}
}

func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		config.Server.Mode = mode
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		config.Server.TrustedProxies = splitList(proxies)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		config.Admin.Username = username
	}
	if ips := os.Getenv("ADMIN_ALLOWED_IPS"); ips != "" {
		config.Admin.AllowedIPs = splitList(ips)
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitList(corsOrigins)
	}

	if interval := os.Getenv("SETTLEMENT_BATCH_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			config.Settlement.BatchIntervalMs = ms
		}
	}
	if enabled := os.Getenv("KEEPER_ENABLED"); enabled != "" {
		config.Keeper.Enabled = enabled == "true"
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func orDerived(s string) string {
	if s == "" {
		return "(derived)"
	}
	return s
}

// RedemptionDelay returns the configured queue delay.
func (p ProtocolConfig) RedemptionDelay() time.Duration {
	return time.Duration(p.RedemptionDelaySeconds) * time.Second
}

// BatchInterval returns the sealer period; zero disables it.
func (s SettlementConfig) BatchInterval() time.Duration {
	return time.Duration(s.BatchIntervalMs) * time.Millisecond
}

// Interval returns the keeper period.
func (k KeeperConfig) Interval() time.Duration {
	return time.Duration(k.IntervalSeconds) * time.Second
}

// TokenTTL returns the wallet session lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

// NonceTTL returns how long a login nonce stays valid.
func (a AuthConfig) NonceTTL() time.Duration {
	return time.Duration(a.NonceTTLSeconds) * time.Second
}

// ServerAddress returns host:port for the HTTP listener.
func (s ServerConfig) ServerAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
