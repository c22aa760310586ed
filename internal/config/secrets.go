package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields
// replaced by the redaction placeholder "***". Use this when logging the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
	for name, vc := range cfg.Venues {
		redact(&vc.APIKey)
		redact(&vc.APISecret)
		out.Venues[name] = vc
	}

	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	return out
}

// redact replaces a non-empty string with "***" in place.
func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
