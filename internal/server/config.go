package server

import "os"

// Config collects every environment-driven setting, read once at startup.
// Nothing else in the process touches the environment.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string // empty disables run history
	ModelDir    string // directory holding the prediction model artifact
	NVDAPIKey   string
	TorProxyURL string // SOCKS5 proxy for the dark-web source

	// AI provider credentials; an empty key leaves that provider out of
	// the fallback chain.
	OpenAIKey      string
	OpenAIModel    string
	GroqKey        string
	AnthropicKey   string
	AnthropicModel string
}

// ConfigFromEnv reads the process environment with defaults applied.
func ConfigFromEnv() Config {
	cfg := Config{
		Port:        os.Getenv("PORT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ModelDir:    os.Getenv("CTI_MODEL_DIR"),
		NVDAPIKey:   os.Getenv("NVD_API_KEY"),
		TorProxyURL: os.Getenv("TOR_SOCKS_PROXY"),

		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		GroqKey:        os.Getenv("GROQ_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel: os.Getenv("ANTHROPIC_MODEL"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = "models"
	}
	if cfg.TorProxyURL == "" {
		cfg.TorProxyURL = "socks5://127.0.0.1:9050"
	}
	return cfg
}
