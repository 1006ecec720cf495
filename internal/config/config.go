package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded by the file named in
// CONFIG_FILE (any format viper understands). Environment always wins.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Realtime RealtimeConfig
	Calls    CallsConfig
	Email    EmailConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL (https://voice.example.com).
	// When empty, the media-stream URL handed to the carrier is derived from the request host.
	PublicURL string

	CORSOrigins []string
	LogFile     string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Dashboard operator credentials. The password is stored as a bcrypt hash.
	AdminEmail        string
	AdminPasswordHash string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// ValidateSignatures enables X-Twilio-Signature checks on the TwiML webhook.
	ValidateSignatures bool
	Greeting           string
}

type RealtimeConfig struct {
	APIKey  string
	URL     string
	APIBase string
	Model   string
	Voice   string

	// BrowserModel is minted for browser sessions, which always use pcm16.
	BrowserModel string

	// AudioFormat is what the provider is asked to speak: g711_ulaw (pass-through)
	// or pcm16 (transcoded by the bridge).
	AudioFormat        string
	TranscriptionModel string
	Temperature        float64

	VADThreshold         float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int

	HandshakeTimeout time.Duration
}

type CallsConfig struct {
	// MaxConcurrent caps simultaneous bridged calls across all instances. 0 disables the cap.
	MaxConcurrent int
	SlotTTL       time.Duration
	FinalizeWait  time.Duration
}

type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
}

// Load reads configuration from the environment (and CONFIG_FILE when set) and validates it.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	r := reader{v: v}
	c := Config{}

	c.App.Env = r.str("APP_ENV")
	c.App.Port = r.requiredInt("APP_PORT")
	c.App.PublicURL = strings.TrimRight(r.str("PUBLIC_URL"), "/")
	c.App.CORSOrigins = r.list("CORS_ORIGINS")
	c.App.LogFile = r.str("LOG_FILE")

	c.DB.Host = r.str("DB_HOST")
	c.DB.Port = r.requiredInt("DB_PORT")
	c.DB.User = r.str("DB_USER")
	c.DB.Password = r.raw("DB_PASSWORD")
	c.DB.Name = r.str("DB_NAME")
	c.DB.SSLMode = r.str("DB_SSLMODE")

	c.Redis.Host = r.str("REDIS_HOST")
	c.Redis.Port = r.requiredInt("REDIS_PORT")
	c.Redis.Password = r.raw("REDIS_PASSWORD")

	c.Auth.JWTSecret = r.raw("JWT_SECRET")
	c.Auth.JWTIssuer = r.str("JWT_ISSUER")
	c.Auth.JWTAudience = r.str("JWT_AUDIENCE")
	c.Auth.AccessTokenTTL = r.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = r.duration("JWT_REFRESH_TTL")
	c.Auth.AdminEmail = r.str("ADMIN_EMAIL")
	c.Auth.AdminPasswordHash = r.raw("ADMIN_PASSWORD_HASH")

	c.Twilio.AccountSID = r.str("TWILIO_ACCOUNT_SID")
	c.Twilio.AuthToken = r.raw("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignatures = r.boolean("TWILIO_VALIDATE_SIGNATURES")
	c.Twilio.Greeting = r.str("TWILIO_GREETING")

	c.Realtime.APIKey = r.raw("OPENAI_API_KEY")
	c.Realtime.URL = r.str("REALTIME_URL")
	c.Realtime.APIBase = r.str("REALTIME_API_BASE")
	c.Realtime.Model = r.str("REALTIME_MODEL")
	c.Realtime.Voice = r.str("REALTIME_VOICE")
	c.Realtime.BrowserModel = r.str("REALTIME_BROWSER_MODEL")
	c.Realtime.AudioFormat = r.str("REALTIME_AUDIO_FORMAT")
	c.Realtime.TranscriptionModel = r.str("REALTIME_TRANSCRIPTION_MODEL")
	c.Realtime.Temperature = r.float("REALTIME_TEMPERATURE")
	c.Realtime.VADThreshold = r.float("REALTIME_VAD_THRESHOLD")
	c.Realtime.VADPrefixPaddingMs = r.optionalInt("REALTIME_VAD_PREFIX_PADDING_MS")
	c.Realtime.VADSilenceDurationMs = r.optionalInt("REALTIME_VAD_SILENCE_DURATION_MS")
	c.Realtime.HandshakeTimeout = r.duration("REALTIME_HANDSHAKE_TIMEOUT")

	c.Calls.MaxConcurrent = r.optionalInt("CALLS_MAX_CONCURRENT")
	c.Calls.SlotTTL = r.duration("CALLS_SLOT_TTL")
	c.Calls.FinalizeWait = r.duration("CALLS_FINALIZE_WAIT")

	c.Email.SendGridAPIKey = r.raw("SENDGRID_API_KEY")
	c.Email.FromAddress = r.str("EMAIL_FROM")

	if err := joinErrors(r.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every problem at once.
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
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if (c.Auth.AdminEmail == "") != (c.Auth.AdminPasswordHash == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set together"))
	}

	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURES is on"))
	}
	if c.Twilio.Greeting == "" {
		c.Twilio.Greeting = "Please wait while I connect you to our AI receptionist"
	}

	if c.Realtime.APIKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
	}
	c.Realtime.applyDefaults()
	if !isValidAudioFormat(c.Realtime.AudioFormat) {
		errs = append(errs, fmt.Errorf("REALTIME_AUDIO_FORMAT must be g711_ulaw or pcm16, got %q", c.Realtime.AudioFormat))
	}
	if c.Realtime.Temperature < 0.6 || c.Realtime.Temperature > 1.2 {
		errs = append(errs, fmt.Errorf("REALTIME_TEMPERATURE must be within [0.6, 1.2], got %v", c.Realtime.Temperature))
	}
	if c.Realtime.VADThreshold <= 0 || c.Realtime.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("REALTIME_VAD_THRESHOLD must be within (0, 1], got %v", c.Realtime.VADThreshold))
	}

	if c.Calls.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("CALLS_MAX_CONCURRENT must be >= 0, got %d", c.Calls.MaxConcurrent))
	}
	if c.Calls.SlotTTL <= 0 {
		c.Calls.SlotTTL = 2 * time.Hour
	}
	if c.Calls.FinalizeWait <= 0 {
		c.Calls.FinalizeWait = 5 * time.Second
	}

	if c.Email.SendGridAPIKey != "" && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("EMAIL_FROM is required when SENDGRID_API_KEY is set"))
	}

	return joinErrors(errs)
}

func (r *RealtimeConfig) applyDefaults() {
	if r.URL == "" {
		r.URL = "wss://api.openai.com/v1/realtime"
	}
	if r.APIBase == "" {
		r.APIBase = "https://api.openai.com/v1"
	}
	if r.Model == "" {
		r.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	if r.Voice == "" {
		r.Voice = "alloy"
	}
	if r.BrowserModel == "" {
		r.BrowserModel = "gpt-4o-realtime-preview-2024-12-17"
	}
	if r.AudioFormat == "" {
		r.AudioFormat = "g711_ulaw"
	}
	if r.TranscriptionModel == "" {
		r.TranscriptionModel = "whisper-1"
	}
	if r.Temperature == 0 {
		r.Temperature = 0.8
	}
	if r.VADThreshold == 0 {
		r.VADThreshold = 0.5
	}
	if r.VADPrefixPaddingMs <= 0 {
		r.VADPrefixPaddingMs = 300
	}
	if r.VADSilenceDurationMs <= 0 {
		r.VADSilenceDurationMs = 1000
	}
	if r.HandshakeTimeout <= 0 {
		r.HandshakeTimeout = 15 * time.Second
	}
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

// reader wraps viper lookups and collects parse errors.
type reader struct {
	v    *viper.Viper
	errs []error
}

func (r *reader) raw(key string) string { return r.v.GetString(key) }

func (r *reader) str(key string) string { return strings.TrimSpace(r.v.GetString(key)) }

func (r *reader) requiredInt(key string) int {
	s := r.str(key)
	if s == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, s))
		return 0
	}
	return n
}

func (r *reader) optionalInt(key string) int {
	s := r.str(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, s))
		return 0
	}
	return n
}

func (r *reader) float(key string) float64 {
	s := r.str(key)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a number, got %q", key, s))
		return 0
	}
	return f
}

func (r *reader) boolean(key string) bool {
	s := r.str(key)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, s))
		return false
	}
	return b
}

// duration is lenient: unset or unparsable values fall back to defaults in Validate.
func (r *reader) duration(key string) time.Duration {
	s := r.str(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (r *reader) list(key string) []string {
	s := r.str(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func isValidAudioFormat(v string) bool {
	return v == "g711_ulaw" || v == "pcm16"
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
