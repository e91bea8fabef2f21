package config

import (
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Session.Passphrase)
	redact(&out.Session.Password)
	redact(&out.Redis.Password)
	redactDSN(&out.Archive.PostgresDSN)
	redact(&out.Archive.S3.AccessKey)
	redact(&out.Archive.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so the redacted value shares nothing with cfg.
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks only the password of a URL-style DSN so host and database
// stay visible; anything unparseable is masked entirely.
func redactDSN(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.Scheme == "" {
		*s = redacted
		return
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	*s = u.String()
}
