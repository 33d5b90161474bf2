package webhdfs

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/nucleus/webhdfs/internal/retry"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultTransport     = "https"
	DefaultEndpoint      = "webhdfs"
	DefaultAPIVersion    = "v1"
	DefaultChunkSize     = 512 * datasize.KB
	DefaultTimeout       = 60 * time.Second
	DefaultRetryAttempts = retry.DefaultAttempts
	DefaultRetryWindow   = retry.DefaultWindow
	DefaultRetryInterval = retry.DefaultInterval
	DefaultUserAgent     = "webhdfs-go/1.0"

	// DataTimeoutMultiplier scales Timeout for the data-node hop, which moves
	// whole files.
	DataTimeoutMultiplier = 60
)

// Config holds WebHDFS connection configuration.
type Config struct {
	Host       string `yaml:"host"`        // NameNode host
	Port       int    `yaml:"port"`        // WebHDFS port (e.g. 9870, 50470)
	Transport  string `yaml:"transport"`   // http or https
	Endpoint   string `yaml:"endpoint"`    // API root path segment
	APIVersion string `yaml:"api_version"` // API version path segment
	User       string `yaml:"user"`        // sent as user.name

	// ChunkSize is the read size used when streaming uploads.
	ChunkSize datasize.ByteSize `yaml:"chunk_size"`

	// Timeout bounds a control request. Data requests get
	// Timeout*DataTimeoutMultiplier.
	Timeout time.Duration `yaml:"timeout"`

	// Delegation is an opaque token sent as the delegation query parameter.
	Delegation string `yaml:"delegation"`

	RetryAttempts int           `yaml:"retry_attempts"`
	RetryWindow   time.Duration `yaml:"retry_window"`
	RetryInterval time.Duration `yaml:"retry_interval"`

	// RateLimit caps requests per second across all calls of one client.
	// Zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`

	UserAgent string `yaml:"user_agent"`
}

// WithDefaults returns a copy of c with defaults filled in.
func (c Config) WithDefaults() Config {
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = DefaultRetryWindow
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Validate checks that the required fields are set and well formed.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	switch strings.ToLower(c.Transport) {
	case "", "http", "https":
	default:
		return fmt.Errorf("transport must be http or https, got %q", c.Transport)
	}
	if c.ChunkSize > datasize.ByteSize(maxChunkSize) {
		return fmt.Errorf("chunk size %s exceeds %s", c.ChunkSize.HR(), datasize.ByteSize(maxChunkSize).HR())
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

const maxChunkSize = 1 << 30

// BaseURL returns {transport}://{host}:{port}/{endpoint}/{version}.
func (c Config) BaseURL() *url.URL {
	return &url.URL{
		Scheme: c.Transport,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strings.Trim(c.Endpoint, "/") + "/" + strings.Trim(c.APIVersion, "/"),
	}
}

// DataTimeout is the timeout for data-node transfers.
func (c Config) DataTimeout() time.Duration {
	return c.Timeout * DataTimeoutMultiplier
}

// RetryPolicy returns the per-call retry policy described by c.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.RetryAttempts,
		Window:   c.RetryWindow,
		Interval: c.RetryInterval,
	}
}

// operationURL joins the remote path under the API root.
func (c Config) operationURL(remote string) *url.URL {
	u := c.BaseURL()
	u.Path = path.Join(u.Path, "/"+strings.TrimPrefix(remote, "/"))
	return u
}

// ParseConfig extracts configuration from a map, accepting camelCase and
// snake_case keys.
func ParseConfig(m map[string]any) (Config, error) {
	cfg := Config{
		Host:       getString(m, "host", ""),
		Port:       getInt(m, "port", 0),
		User:       getString(m, "user", getString(m, "user_name", "")),
		Transport:  getString(m, "transport", ""),
		Endpoint:   getString(m, "endpoint", ""),
		APIVersion: getString(m, "apiVersion", getString(m, "api_version", "")),
		Delegation: getString(m, "delegation", getString(m, "kerberos_token", getString(m, "kerberosToken", ""))),
		UserAgent:  getString(m, "userAgent", getString(m, "user_agent", "")),
	}

	if kb := getInt(m, "chunkSizeKb", getInt(m, "chunk_size_kb", getInt(m, "kilobyte_chunks", 0))); kb > 0 {
		cfg.ChunkSize = datasize.ByteSize(kb) * datasize.KB
	}
	if s := getInt(m, "timeoutSeconds", getInt(m, "timeout_seconds", 0)); s > 0 {
		cfg.Timeout = time.Duration(s) * time.Second
	}
	cfg.RetryAttempts = getInt(m, "retryAttempts", getInt(m, "retry_attempts", 0))
	if s := getInt(m, "retryWindowSeconds", getInt(m, "retry_window_seconds", getInt(m, "retry_seconds", 0))); s > 0 {
		cfg.RetryWindow = time.Duration(s) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// --- Helper functions ---

func getString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

func getInt(m map[string]any, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
