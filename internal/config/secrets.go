package config

import "strings"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// RPC URLs usually embed a provider key in the path.
	if cfg.Gas.RPCURLs != nil {
		out.Gas.RPCURLs = make(map[string]string, len(cfg.Gas.RPCURLs))
		for k, v := range cfg.Gas.RPCURLs {
			out.Gas.RPCURLs[k] = redactURL(v)
		}
	}

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = copyStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = copyStrings(cfg.Server.CORSOrigins)
	out.Cache.SyntheticVenues = copyStrings(cfg.Cache.SyntheticVenues)

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Engine.FeeBps != nil {
		out.Engine.FeeBps = make(map[string]float64, len(cfg.Engine.FeeBps))
		for k, v := range cfg.Engine.FeeBps {
			out.Engine.FeeBps[k] = v
		}
	}
	if cfg.Gas.NativeUSD != nil {
		out.Gas.NativeUSD = make(map[string]float64, len(cfg.Gas.NativeUSD))
		for k, v := range cfg.Gas.NativeUSD {
			out.Gas.NativeUSD[k] = v
		}
	}
	if cfg.Gas.Static != nil {
		out.Gas.Static = make(map[string]StaticGas, len(cfg.Gas.Static))
		for k, v := range cfg.Gas.Static {
			out.Gas.Static[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps the scheme and host of an RPC URL and masks the rest.
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return redacted
	}
	host, _, hasPath := strings.Cut(rest, "/")
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	if !hasPath {
		return scheme + "://" + host
	}
	return scheme + "://" + host + "/" + redacted
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
