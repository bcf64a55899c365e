package cfg

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/pelletier/go-toml"
)

const (
	DefWebhookEndpoint    = "/api/v1/listener/github"
	DefDedupCacheCapacity = 1024
	DefLogFormat          = "logfmt"
	DefLogLevel           = "info"
	DefLogTimeKey         = "time"
	DefSendBackpressure   = "drop"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	DedupCacheCapacity        int    `toml:"dedup_cache_capacity"`

	Chat   Chat     `toml:"chat"`
	Routes []*Route `toml:"route"`
}

// Chat contains the connection settings for the chat server that
// notifications are relayed to.
type Chat struct {
	ServerURL string `toml:"server_url"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	// DefaultRoom receives notifications for repositories without an
	// own route. If empty, events for unrouted repositories are
	// discarded.
	DefaultRoom string `toml:"default_room"`
	// SendBackpressure is either "drop" or "block" and defines whether
	// a send is discarded or waits when the session is not ready.
	SendBackpressure string `toml:"send_backpressure"`
}

// Route maps a repository to one or more chat rooms and defines
// optional filters that suppress events of the repository.
type Route struct {
	// Repository is the full name of the repository, e.g. "org/repo".
	Repository string   `toml:"repository"`
	Rooms      []string `toml:"rooms"`
	// Branches is a list of regular expressions. If set, events that
	// carry a branch are only relayed when the branch matches one of
	// them.
	Branches []string `toml:"branches"`
	// IgnoreActors is a list of regular expressions. Events whose
	// actor login matches one of them are not relayed.
	IgnoreActors []string `toml:"ignore_actors"`
	// FilterQuery is an optional jq query that is evaluated on the
	// JSON representation of the normalized event. It must evaluate
	// to a boolean, false suppresses the event.
	FilterQuery string `toml:"filter_query"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.applyDefaults()

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPGithubWebhookEndpoint == "" {
		c.HTTPGithubWebhookEndpoint = DefWebhookEndpoint
	}

	if c.LogFormat == "" {
		c.LogFormat = DefLogFormat
	}

	if c.LogLevel == "" {
		c.LogLevel = DefLogLevel
	}

	if c.LogTimeKey == "" {
		c.LogTimeKey = DefLogTimeKey
	}

	if c.DedupCacheCapacity == 0 {
		c.DedupCacheCapacity = DefDedupCacheCapacity
	}

	if c.Chat.SendBackpressure == "" {
		c.Chat.SendBackpressure = DefSendBackpressure
	}
}

// Validate returns an error if the configuration is incomplete or
// inconsistent. The process must not start with an invalid
// configuration.
func (c *Config) Validate() error {
	if c.GithubWebHookSecret == "" {
		return errors.New("missing field: 'github_webhook_secret'")
	}

	if c.Chat.ServerURL == "" {
		return errors.New("chat: missing field: 'server_url'")
	}

	if c.Chat.User == "" {
		return errors.New("chat: missing field: 'user'")
	}

	if c.Chat.Password == "" {
		return errors.New("chat: missing field: 'password'")
	}

	if c.Chat.SendBackpressure != "drop" && c.Chat.SendBackpressure != "block" {
		return fmt.Errorf(
			"chat: unsupported send_backpressure value: %q, expected \"drop\" or \"block\"",
			c.Chat.SendBackpressure,
		)
	}

	if c.DedupCacheCapacity <= 0 {
		return fmt.Errorf("dedup_cache_capacity must be >0, is: %d", c.DedupCacheCapacity)
	}

	if len(c.Routes) == 0 && c.Chat.DefaultRoom == "" {
		return errors.New("at least one route or chat.default_room must be configured, both are unset")
	}

	seen := make(map[string]struct{}, len(c.Routes))

	for i, route := range c.Routes {
		if err := route.validate(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}

		if _, exists := seen[route.Repository]; exists {
			return fmt.Errorf("route %d: duplicate route for repository %q", i, route.Repository)
		}

		seen[route.Repository] = struct{}{}
	}

	return nil
}

func (r *Route) validate() error {
	if r.Repository == "" {
		return errors.New("missing field: 'repository'")
	}

	if len(r.Rooms) == 0 {
		return fmt.Errorf("repository %q: missing array field: 'rooms'", r.Repository)
	}

	for _, expr := range append(append([]string{}, r.Branches...), r.IgnoreActors...) {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("repository %q: invalid regular expression %q: %w", r.Repository, expr, err)
		}
	}

	if r.FilterQuery != "" {
		if _, err := gojq.Parse(r.FilterQuery); err != nil {
			return fmt.Errorf("repository %q: invalid filter_query: %w", r.Repository, err)
		}
	}

	return nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}

// RoutesString returns a human-readable representation of the
// configured routes, intended for the startup log.
func (c *Config) RoutesString() string {
	var result strings.Builder

	for _, route := range c.Routes {
		result.WriteString(route.String())
	}

	return result.String()
}

func (r *Route) String() string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf("%s -> %s", r.Repository, strings.Join(r.Rooms, ", ")))

	if len(r.Branches) > 0 {
		result.WriteString(fmt.Sprintf(" (branches: %s)", strings.Join(r.Branches, ", ")))
	}

	if len(r.IgnoreActors) > 0 {
		result.WriteString(fmt.Sprintf(" (ignored actors: %s)", strings.Join(r.IgnoreActors, ", ")))
	}

	if r.FilterQuery != "" {
		result.WriteString(fmt.Sprintf(" (filter: %s)", r.FilterQuery))
	}

	result.WriteString("\n")

	return result.String()
}
