package config

import "fmt"

// ServerConfig is the contents of config_webserver.yaml.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	SSL struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"ssl"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowedMethods []string `yaml:"allowed_methods"`
		AllowedHeaders []string `yaml:"allowed_headers"`
	} `yaml:"cors"`

	Static struct {
		Dir string `yaml:"dir"`

		// CacheMaxAge is the max-age, in seconds, sent with static files.
		CacheMaxAge int `yaml:"cache_max_age"`
	} `yaml:"static"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"*"}
	}
	if c.Static.Dir == "" {
		c.Static.Dir = "static"
	}
	if c.Static.CacheMaxAge == 0 {
		c.Static.CacheMaxAge = 3600
	}
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OAuthConfig is the contents of config_oauth.yaml.
type OAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Provider     string `yaml:"provider"`
	ClientIDEnv  string `yaml:"client_id_env"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RedirectPath string `yaml:"redirect_path"`
}

// ClientID resolves the OAuth client id.
func (c *OAuthConfig) ClientID() string {
	return ResolveEnvRef(c.ClientIDEnv)
}
