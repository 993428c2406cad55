package config

import "time"

// Config holds agent configuration values.
type Config struct {
	// Addr is the listen address of the local consumer API.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Username is the display name shared by every tab of this user.
	Username string `mapstructure:"username" yaml:"username"`
	// APIKey authenticates against the token issuer.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// APISecret, when set, lets the agent mint room-join tokens locally
	// instead of calling the issuer endpoint.
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	// SignalingURL is the websocket URL of the SFU signaling relay.
	// Several URLs may be given comma-separated; the first reachable wins.
	SignalingURL string `mapstructure:"signaling_url" yaml:"signaling_url"`
	// TokenURL is the access-token issuer endpoint.
	TokenURL string `mapstructure:"token_url" yaml:"token_url"`
	// ChannelIDPrefix and ChannelIDSuffix frame every channel id.
	// Hosted SFU projects use the suffix for the project qualifier.
	ChannelIDPrefix string `mapstructure:"channel_id_prefix" yaml:"channel_id_prefix"`
	ChannelIDSuffix string `mapstructure:"channel_id_suffix" yaml:"channel_id_suffix"`
	// ShareCurrentTabOnly restricts display capture to the calling tab.
	ShareCurrentTabOnly bool `mapstructure:"share_current_tab_only" yaml:"share_current_tab_only"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              "127.0.0.1:8990",
		LogLevel:          "info",
		ChannelIDPrefix:   "notetalk-",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}
