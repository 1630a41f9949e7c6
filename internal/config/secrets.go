package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Auth.APIKey)
	redact(&out.Auth.APISecret)
	redact(&out.Auth.Passphrase)
	redact(&out.Auth.SecretPassword)

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.API.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.MarketData.Providers != nil {
		out.MarketData.Providers = append([]string(nil), cfg.MarketData.Providers...)
	}
	if cfg.API.CORSOrigins != nil {
		out.API.CORSOrigins = append([]string(nil), cfg.API.CORSOrigins...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
