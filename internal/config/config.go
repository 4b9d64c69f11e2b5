package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"order-fulfillment/internal/domain"
)

const (
	defaultHTTPPort           = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultCurrency           = "USD"
	defaultPaymentProvider    = "mock"
	defaultPaymentMethod      = "bank_card"
	defaultGatewayTimeout     = 10 * time.Second
	defaultLoyaltyTiers       = "basic:0:0,silver:1000:5,gold:5000:10"
	defaultLoyaltyEarnPercent = 5
	defaultReconcileInterval  = 30 * time.Second
	defaultReconcileStale     = time.Minute
	defaultReconcileBatch     = 100
	defaultLogLevel           = "info"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Payment   PaymentConfig
	Loyalty   LoyaltyConfig
	Reconcile ReconcileConfig
	LogLevel  string
}

// DatabaseConfig keeps the BLUEPRINT_DB_* naming of the deployment templates.
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// DSN builds a pgx connection URL with credentials escaped.
func (c DatabaseConfig) DSN() string {
	query := url.Values{"sslmode": {"disable"}}
	if c.Schema != "" {
		query.Set("search_path", c.Schema)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type PaymentConfig struct {
	Provider            string
	Currency            string
	DefaultMethod       string
	GatewayTimeout      time.Duration
	StripeAPIKey        string
	StripeWebhookSecret string
}

type LoyaltyConfig struct {
	Tiers       domain.TierTable
	EarnPercent int64
}

type ReconcileConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load reads .env (when present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the supplied lookup function.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		Database: DatabaseConfig{
			Host:     r.str("BLUEPRINT_DB_HOST", "localhost"),
			Port:     r.str("BLUEPRINT_DB_PORT", "5432"),
			Username: r.str("BLUEPRINT_DB_USERNAME", ""),
			Password: r.str("BLUEPRINT_DB_PASSWORD", ""),
			Database: r.str("BLUEPRINT_DB_DATABASE", ""),
			Schema:   r.str("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Server: ServerConfig{
			Port:           r.str("HTTP_PORT", defaultHTTPPort),
			ReadTimeout:    r.duration("HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   r.duration("HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			AllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),
		},
		Payment: PaymentConfig{
			Provider:            strings.ToLower(r.str("PAYMENT_PROVIDER", defaultPaymentProvider)),
			Currency:            domain.NormalizeCurrency(r.str("STORE_CURRENCY", defaultCurrency)),
			DefaultMethod:       r.str("PAYMENT_METHOD_DEFAULT", defaultPaymentMethod),
			GatewayTimeout:      r.duration("PAYMENT_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			StripeAPIKey:        r.str("STRIPE_API_KEY", ""),
			StripeWebhookSecret: r.str("STRIPE_WEBHOOK_SECRET", ""),
		},
		Loyalty: LoyaltyConfig{
			EarnPercent: int64(r.integer("LOYALTY_EARN_PERCENT", defaultLoyaltyEarnPercent)),
		},
		Reconcile: ReconcileConfig{
			Interval:   r.duration("RECONCILE_INTERVAL", defaultReconcileInterval),
			StaleAfter: r.duration("RECONCILE_STALE_AFTER", defaultReconcileStale),
			BatchSize:  r.integer("RECONCILE_BATCH_SIZE", defaultReconcileBatch),
		},
		LogLevel: strings.ToLower(r.str("LOG_LEVEL", defaultLogLevel)),
	}

	tiers, err := ParseTiers(r.str("LOYALTY_TIERS", defaultLoyaltyTiers))
	if err != nil {
		r.invalid("LOYALTY_TIERS")
	}
	cfg.Loyalty.Tiers = tiers

	if cfg.Database.Username == "" {
		r.invalid("BLUEPRINT_DB_USERNAME")
	}
	if cfg.Database.Database == "" {
		r.invalid("BLUEPRINT_DB_DATABASE")
	}
	if len(cfg.Payment.Currency) != 3 {
		r.invalid("STORE_CURRENCY")
	}
	switch cfg.Payment.Provider {
	case "mock":
	case "stripe":
		if cfg.Payment.StripeAPIKey == "" {
			r.invalid("STRIPE_API_KEY")
		}
	default:
		r.invalid("PAYMENT_PROVIDER")
	}
	if cfg.Payment.GatewayTimeout <= 0 {
		r.invalid("PAYMENT_GATEWAY_TIMEOUT")
	}
	if cfg.Loyalty.EarnPercent < 0 || cfg.Loyalty.EarnPercent > 100 {
		r.invalid("LOYALTY_EARN_PERCENT")
	}
	if cfg.Reconcile.Interval <= 0 {
		r.invalid("RECONCILE_INTERVAL")
	}
	if cfg.Reconcile.BatchSize <= 0 {
		r.invalid("RECONCILE_BATCH_SIZE")
	}

	if len(r.bad) > 0 {
		return Config{}, &ValidationError{fields: r.bad}
	}
	return cfg, nil
}

// ParseTiers parses "name:minPoints:percent" entries separated by commas.
func ParseTiers(raw string) (domain.TierTable, error) {
	var tiers []domain.Tier
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("tier %q: want name:minPoints:percent", entry)
		}
		minPoints, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: min points: %w", entry, err)
		}
		percent, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: percent: %w", entry, err)
		}
		tiers = append(tiers, domain.Tier{Name: parts[0], MinPoints: minPoints, DiscountPercentage: percent})
	}
	return domain.NewTierTable(tiers)
}

type reader struct {
	lookup func(string) (string, bool)
	bad    []string
}

func (r *reader) invalid(key string) {
	r.bad = append(r.bad, key)
}

func (r *reader) str(key, fallback string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r *reader) list(key string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.invalid(key)
		return fallback
	}
	return d
}

func (r *reader) integer(key string, fallback int) int {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.invalid(key)
		return fallback
	}
	return n
}
