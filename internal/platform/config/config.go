package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 20 * time.Second
	defaultStoreBackend        = StoreBackendMemory
	defaultPostgresMaxConns    = 10
	defaultPostgresMinConns    = 2
	defaultPostgresLifetime    = time.Hour
	defaultPriceCacheTTL       = 24 * time.Hour
	defaultLookupTimeout       = 3 * time.Second
	defaultLookupConcurrency   = 4
	defaultDowngradePolicy     = "lowest-impact-first"
	defaultSecurityEnvironment = "local"
	defaultSecretsFallbackFile = ".secrets.local"
)

// Supported persistence backends for the price table and decision traces.
const (
	StoreBackendMemory    = "memory"
	StoreBackendFirestore = "firestore"
	StoreBackendPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Firestore FirestoreConfig
	Postgres  PostgresConfig
	Storage   StorageConfig
	Events    EventsConfig
	Pricing   PricingConfig
	Catalog   CatalogConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// StoreConfig selects the repository backend and whether to seed it from the catalog at startup.
type StoreConfig struct {
	Backend         string
	SeedFromCatalog bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the pgx connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
}

// StorageConfig configures the Cloud Storage client.
type StorageConfig struct {
	ProjectID string
	Endpoint  string
}

// EventsConfig names the Pub/Sub topic receiving estimate events. An empty topic logs events instead.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// PricingConfig tunes the estimate engine.
type PricingConfig struct {
	CacheTTL          time.Duration
	LookupTimeout     time.Duration
	Concurrency       int
	DowngradePolicy   string
	VerifyDeterminism bool
}

// CatalogConfig points at the rule catalog. Bucket/Object win over Path; both empty uses the embedded default.
type CatalogConfig struct {
	Path   string
	Bucket string
	Object string
}

// SecurityConfig groups environment and secret resolution settings.
type SecurityConfig struct {
	Environment         string
	SecretsProjectID    string
	SecretsFallbackFile string
}

// Production reports whether raw error details must be hidden from clients.
func (s SecurityConfig) Production() bool {
	switch s.Environment {
	case "prod", "production":
		return true
	}
	return false
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface. Names are redacted.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Postgres.DSN") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Lookup returns a key lookup applying the same precedence as Load: explicit map, then OS env, then .env.
// cmd/api uses it to read bootstrap settings (secret project, log level) before Load runs.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options.lookup()
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	var invalid []string
	duration := func(key string, fallback time.Duration, field string) time.Duration {
		d, ok := durationWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, field)
		}
		return d
	}
	integer := func(key string, fallback int, field string) int {
		n, ok := intWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, field)
		}
		return n
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout, "Server.ReadTimeout"),
			WriteTimeout:   duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout, "Server.WriteTimeout"),
			IdleTimeout:    duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout, "Server.IdleTimeout"),
			RequestTimeout: duration("API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout, "Server.RequestTimeout"),
		},
		Store: StoreConfig{
			Backend:         strings.ToLower(stringWithDefault(lookup, "API_STORE_BACKEND", defaultStoreBackend)),
			SeedFromCatalog: boolWithDefault(lookup, "API_STORE_SEED_FROM_CATALOG", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:             stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxConns:        integer("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns, "Postgres.MaxConns"),
			MinConns:        integer("API_POSTGRES_MIN_CONNS", defaultPostgresMinConns, "Postgres.MinConns"),
			MaxConnLifetime: duration("API_POSTGRES_MAX_CONN_LIFETIME", defaultPostgresLifetime, "Postgres.MaxConnLifetime"),
		},
		Storage: StorageConfig{
			ProjectID: stringWithDefault(lookup, "API_STORAGE_PROJECT_ID", ""),
			Endpoint:  stringWithDefault(lookup, "API_STORAGE_ENDPOINT", ""),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_EVENTS_TOPIC", ""),
		},
		Pricing: PricingConfig{
			CacheTTL:          duration("API_PRICING_CACHE_TTL", defaultPriceCacheTTL, "Pricing.CacheTTL"),
			LookupTimeout:     duration("API_PRICING_LOOKUP_TIMEOUT", defaultLookupTimeout, "Pricing.LookupTimeout"),
			Concurrency:       integer("API_PRICING_CONCURRENCY", defaultLookupConcurrency, "Pricing.Concurrency"),
			DowngradePolicy:   strings.ToLower(stringWithDefault(lookup, "API_PRICING_DOWNGRADE_POLICY", defaultDowngradePolicy)),
			VerifyDeterminism: boolWithDefault(lookup, "API_PRICING_VERIFY_DETERMINISM", false),
		},
		Catalog: CatalogConfig{
			Path:   stringWithDefault(lookup, "API_CATALOG_PATH", ""),
			Bucket: stringWithDefault(lookup, "API_CATALOG_BUCKET", ""),
			Object: stringWithDefault(lookup, "API_CATALOG_OBJECT", ""),
		},
		Security: SecurityConfig{
			Environment:         strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			SecretsProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			SecretsFallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
	}

	// Firestore, Pub/Sub and Storage share one project unless configured separately.
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Storage.ProjectID == "" {
		cfg.Storage.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			missing = append(missing, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 || cfg.Postgres.MinConns < 0 || cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
			missing = append(missing, "Postgres.MaxConns")
		}
	default:
		missing = append(missing, "Store.Backend")
	}
	if cfg.Pricing.LookupTimeout <= 0 {
		missing = append(missing, "Pricing.LookupTimeout")
	}
	if cfg.Pricing.CacheTTL < 0 {
		missing = append(missing, "Pricing.CacheTTL")
	}
	if cfg.Pricing.Concurrency <= 0 {
		missing = append(missing, "Pricing.Concurrency")
	}
	switch cfg.Pricing.DowngradePolicy {
	case "lowest-impact-first", "cheapest-first":
	default:
		missing = append(missing, "Pricing.DowngradePolicy")
	}
	if (cfg.Catalog.Bucket == "") != (cfg.Catalog.Object == "") {
		missing = append(missing, "Catalog.Object")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] == "" {
			missing = append(missing, trimmed)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback, false
	}
	return d, true
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) (int, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback, false
	}
	return parsed, true
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
