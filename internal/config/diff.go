package config

// ConfigDiff describes what changed between two configs, split into changes
// that can be applied to a running server and those that need a restart.
type ConfigDiff struct {
	// LogLevelChanged is hot-applicable via the process-wide level var.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when the store DSN, the embeddings provider, or
	// the listen address changed — none of those can be swapped live.
	RestartRequired bool
	RestartReasons  []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(reason string) {
		d.RestartRequired = true
		d.RestartReasons = append(d.RestartReasons, reason)
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		restart("server.listen_addr")
	}
	if old.Store.PostgresDSN != new.Store.PostgresDSN {
		restart("store.postgres_dsn")
	}
	if old.Store.EmbeddingDimensions != new.Store.EmbeddingDimensions {
		restart("store.embedding_dimensions")
	}
	if old.Embeddings.Name != new.Embeddings.Name ||
		old.Embeddings.Model != new.Embeddings.Model ||
		old.Embeddings.BaseURL != new.Embeddings.BaseURL {
		restart("embeddings")
	}
	return d
}
