package config

// AuthConfig holds the static API keys the gateway accepts. Full
// end-user authentication lives outside this runtime; these keys only
// gate the event-stream endpoints.
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key       string `yaml:"key"`
	AccountID string `yaml:"account_id"`
	Name      string `yaml:"name"`
}
