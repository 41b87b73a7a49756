package schema

import (
	"net/url"
	"strings"

	"github.com/coachpo/venuelink/errs"
)

// Environment identifies the venue environment the link talks to.
type Environment string

const (
	// EnvDev marks a development or demo venue.
	EnvDev Environment = "dev"
	// EnvStaging marks a staging venue.
	EnvStaging Environment = "staging"
	// EnvProd marks the live venue.
	EnvProd Environment = "prod"
)

// Valid reports whether the environment is one of the known values.
func (e Environment) Valid() bool {
	switch e {
	case EnvDev, EnvStaging, EnvProd:
		return true
	default:
		return false
	}
}

// Credential authenticates requests against the venue. It is held in memory only.
type Credential struct {
	key      string
	secret   string
	clientID string
}

// NewCredential constructs an immutable credential.
func NewCredential(key, secret, clientID string) Credential {
	return Credential{
		key:      strings.TrimSpace(key),
		secret:   strings.TrimSpace(secret),
		clientID: strings.TrimSpace(clientID),
	}
}

// Key returns the public API key.
func (c Credential) Key() string { return c.key }

// Secret returns the signing secret.
func (c Credential) Secret() string { return c.secret }

// ClientID returns the optional client identifier.
func (c Credential) ClientID() string { return c.clientID }

// Validate ensures the fields required for signing are present.
func (c Credential) Validate() error {
	if c.key == "" {
		return errs.Configuration("credential", "api key required")
	}
	if c.secret == "" {
		return errs.Configuration("credential", "api secret required")
	}
	return nil
}

// String redacts the secret.
func (c Credential) String() string {
	return "Credential{key=" + c.key + ", clientId=" + c.clientID + "}"
}

// EndpointConfig locates the venue's REST and streaming endpoints.
type EndpointConfig struct {
	baseURL     string
	streamURL   string
	environment Environment
}

// NewEndpointConfig constructs an immutable endpoint configuration.
func NewEndpointConfig(baseURL, streamURL string, env Environment) EndpointConfig {
	return EndpointConfig{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		streamURL:   strings.TrimSpace(streamURL),
		environment: Environment(strings.ToLower(strings.TrimSpace(string(env)))),
	}
}

// BaseURL returns the REST base URL without a trailing slash.
func (c EndpointConfig) BaseURL() string { return c.baseURL }

// StreamURL returns the streaming endpoint, empty when streaming is disabled.
func (c EndpointConfig) StreamURL() string { return c.streamURL }

// Environment returns the venue environment.
func (c EndpointConfig) Environment() Environment { return c.environment }

// HasStream reports whether a streaming endpoint is configured.
func (c EndpointConfig) HasStream() bool { return c.streamURL != "" }

// Validate checks the URLs are absolute and use the expected schemes.
func (c EndpointConfig) Validate() error {
	if err := checkURL(c.baseURL, "http", "https"); err != nil {
		return errs.Configuration("endpoint", "baseUrl: "+err.Error())
	}
	if c.streamURL != "" {
		if err := checkURL(c.streamURL, "ws", "wss"); err != nil {
			return errs.Configuration("endpoint", "streamEndpoint: "+err.Error())
		}
	}
	if !c.environment.Valid() {
		return errs.Configuration("endpoint", "environment must be one of dev, staging, prod")
	}
	return nil
}

type urlError string

func (e urlError) Error() string { return string(e) }

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return urlError("required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return urlError("invalid url")
	}
	if parsed.Host == "" {
		return urlError("host required")
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return urlError("scheme must be one of " + strings.Join(schemes, ", "))
}
