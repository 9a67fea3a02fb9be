package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Storage StorageConfig
	FFmpeg  FFmpegConfig
	Notify  NotifyConfig
	Session SessionConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable origin of this service,
	// used to build join links (e.g. https://vcall.example.com).
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit. Accepts: disable, require, verify-ca, verify-full.
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// StorageConfig controls where raw segments and finished recordings live.
type StorageConfig struct {
	// SegmentsDir holds per-session upload directories (private).
	SegmentsDir string
	// PublicDir holds finalized recordings served as static files.
	PublicDir string
	// PublicURLPrefix is joined with a recording's relative path to form its
	// public URL (e.g. https://vcall.example.com/storage).
	PublicURLPrefix string
	// MaxChunkBytes bounds a single uploaded segment.
	MaxChunkBytes int64
}

type FFmpegConfig struct {
	// Bin is the ffmpeg executable name or absolute path.
	Bin string
	// Timeout bounds a single ffmpeg invocation wall-clock.
	Timeout time.Duration
}

// NotifyConfig points at the external application notified when a recording
// becomes available. Empty URL disables notification.
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// SessionConfig bounds call-session lifetimes. Client-requested TTLs are
// clamped to [MinTTL, MaxTTL].
type SessionConfig struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	{
		d, err := optDuration("JWT_ACCESS_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Auth.AccessTokenTTL = d
	}

	c.Storage.SegmentsDir = strings.TrimSpace(os.Getenv("STORAGE_SEGMENTS_DIR"))
	c.Storage.PublicDir = strings.TrimSpace(os.Getenv("STORAGE_PUBLIC_DIR"))
	c.Storage.PublicURLPrefix = strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_PUBLIC_URL_PREFIX")), "/")
	{
		n, err := optInt64("STORAGE_MAX_CHUNK_BYTES")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Storage.MaxChunkBytes = n
	}

	c.FFmpeg.Bin = strings.TrimSpace(os.Getenv("FFMPEG_BIN"))
	{
		d, err := optDuration("FFMPEG_TIMEOUT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.FFmpeg.Timeout = d
	}

	c.Notify.WebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	{
		d, err := optDuration("NOTIFY_TIMEOUT")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Notify.Timeout = d
	}

	{
		d, err := optDuration("SESSION_DEFAULT_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Session.DefaultTTL = d
	}
	{
		d, err := optDuration("SESSION_MIN_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Session.MinTTL = d
	}
	{
		d, err := optDuration("SESSION_MAX_TTL")
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Session.MaxTTL = d
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicBaseURL == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required in production"))
		} else {
			c.App.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 1 * time.Hour
	}

	if c.Storage.SegmentsDir == "" {
		errs = append(errs, errors.New("STORAGE_SEGMENTS_DIR is required"))
	}
	if c.Storage.PublicDir == "" {
		errs = append(errs, errors.New("STORAGE_PUBLIC_DIR is required"))
	}
	if c.Storage.PublicURLPrefix == "" {
		c.Storage.PublicURLPrefix = c.App.PublicBaseURL + "/storage"
	}
	if c.Storage.MaxChunkBytes <= 0 {
		// Matches the recorder's worst-case 5s slice with wide margin.
		c.Storage.MaxChunkBytes = 20 << 20
	}

	if c.FFmpeg.Bin == "" {
		c.FFmpeg.Bin = "ffmpeg"
	}
	if c.FFmpeg.Timeout <= 0 {
		c.FFmpeg.Timeout = 15 * time.Minute
	}

	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}

	if c.Session.DefaultTTL <= 0 {
		c.Session.DefaultTTL = 2 * time.Hour
	}
	if c.Session.MinTTL <= 0 {
		c.Session.MinTTL = 5 * time.Minute
	}
	if c.Session.MaxTTL <= 0 {
		c.Session.MaxTTL = 72 * time.Hour
	}
	if c.Session.MinTTL > c.Session.MaxTTL {
		errs = append(errs, errors.New("SESSION_MIN_TTL must not exceed SESSION_MAX_TTL"))
	}
	if c.Session.DefaultTTL < c.Session.MinTTL || c.Session.DefaultTTL > c.Session.MaxTTL {
		errs = append(errs, errors.New("SESSION_DEFAULT_TTL must fall within [SESSION_MIN_TTL, SESSION_MAX_TTL]"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// JoinURL builds the shareable join link for a session token.
func (c Config) JoinURL(token string) string {
	return c.App.PublicBaseURL + "/join/" + token
}

// PublicURL resolves a finalized recording's relative path to its public URL.
func (c Config) PublicURL(rel string) string {
	return c.Storage.PublicURLPrefix + "/" + strings.TrimLeft(rel, "/")
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt64 reads an optional int64 env var. Unset means zero (callers apply
// defaults in Validate); a malformed value is an error, never a silent zero.
func optInt64(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optDuration reads an optional duration env var, same contract as optInt64.
func optDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 15m, got %q", key, v)
	}
	return d, nil
}

func appendParseErr[T any](errs []error, n T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
