package cfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleCfg = `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/github/callback"
github_webhook_secret = "hook-secret"
dedup_cache_capacity = 64

[chat]
server_url = "wss://chat.example.com/websocket"
user = "relaybot"
password = "chat-secret"
default_room = "lobby"
send_backpressure = "block"

[[route]]
repository = "org/repo"
rooms = ["dev", "ops"]
branches = ["main", "release/.*"]
ignore_actors = ["dependabot.*"]

[[route]]
repository = "org/other"
rooms = ["dev"]
filter_query = ".kind == \"push\""
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleCfg))
	require.NoError(t, err)

	assert.Equal(t, ":8085", config.HTTPListenAddr)
	assert.Equal(t, "/github/callback", config.HTTPGithubWebhookEndpoint)
	assert.Equal(t, "hook-secret", config.GithubWebHookSecret)
	assert.Equal(t, 64, config.DedupCacheCapacity)

	assert.Equal(t, "wss://chat.example.com/websocket", config.Chat.ServerURL)
	assert.Equal(t, "relaybot", config.Chat.User)
	assert.Equal(t, "lobby", config.Chat.DefaultRoom)
	assert.Equal(t, "block", config.Chat.SendBackpressure)

	require.Len(t, config.Routes, 2)
	assert.Equal(t, "org/repo", config.Routes[0].Repository)
	assert.Equal(t, []string{"dev", "ops"}, config.Routes[0].Rooms)
	assert.Equal(t, []string{"main", "release/.*"}, config.Routes[0].Branches)
	assert.Equal(t, ".kind == \"push\"", config.Routes[1].FilterQuery)

	assert.NoError(t, config.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, DefWebhookEndpoint, config.HTTPGithubWebhookEndpoint)
	assert.Equal(t, DefLogFormat, config.LogFormat)
	assert.Equal(t, DefLogLevel, config.LogLevel)
	assert.Equal(t, DefDedupCacheCapacity, config.DedupCacheCapacity)
	assert.Equal(t, DefSendBackpressure, config.Chat.SendBackpressure)
}

func validConfig() *Config {
	config := Config{
		GithubWebHookSecret: "secret",
		Chat: Chat{
			ServerURL: "wss://chat.example.com/websocket",
			User:      "bot",
			Password:  "pwd",
		},
		Routes: []*Route{
			{Repository: "org/repo", Rooms: []string{"dev"}},
		},
	}

	config.applyDefaults()

	return &config
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("missing webhook secret", func(t *testing.T) {
		config := validConfig()
		config.GithubWebHookSecret = ""
		assert.ErrorContains(t, config.Validate(), "github_webhook_secret")
	})

	t.Run("missing chat credentials", func(t *testing.T) {
		config := validConfig()
		config.Chat.Password = ""
		assert.ErrorContains(t, config.Validate(), "password")
	})

	t.Run("no routes and no default room", func(t *testing.T) {
		config := validConfig()
		config.Routes = nil
		config.Chat.DefaultRoom = ""
		assert.Error(t, config.Validate())
	})

	t.Run("default room without routes is sufficient", func(t *testing.T) {
		config := validConfig()
		config.Routes = nil
		config.Chat.DefaultRoom = "lobby"
		assert.NoError(t, config.Validate())
	})

	t.Run("route without rooms", func(t *testing.T) {
		config := validConfig()
		config.Routes[0].Rooms = nil
		assert.ErrorContains(t, config.Validate(), "rooms")
	})

	t.Run("duplicate route", func(t *testing.T) {
		config := validConfig()
		config.Routes = append(config.Routes, &Route{
			Repository: "org/repo",
			Rooms:      []string{"ops"},
		})
		assert.ErrorContains(t, config.Validate(), "duplicate route")
	})

	t.Run("invalid branch regexp", func(t *testing.T) {
		config := validConfig()
		config.Routes[0].Branches = []string{"]["}
		assert.ErrorContains(t, config.Validate(), "regular expression")
	})

	t.Run("invalid filter query", func(t *testing.T) {
		config := validConfig()
		config.Routes[0].FilterQuery = ".kind =="
		assert.ErrorContains(t, config.Validate(), "filter_query")
	})

	t.Run("invalid backpressure value", func(t *testing.T) {
		config := validConfig()
		config.Chat.SendBackpressure = "buffer"
		assert.ErrorContains(t, config.Validate(), "send_backpressure")
	})
}
