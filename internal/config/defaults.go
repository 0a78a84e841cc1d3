package config

// DefaultExtensions are the file types a directory walk and the watcher pick up.
var DefaultExtensions = []string{
	".txt", ".md", ".markdown", ".rst", ".pdf", ".docx", ".xlsx", ".pptx",
	".odt", ".ods", ".odp", ".rtf", ".png", ".jpg", ".jpeg", ".gif",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "~/.semret/data/db/semret.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "~/.semret/data/index/vectors.idx"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "flat"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Ingest.LineWindow == 0 {
		cfg.Ingest.LineWindow = 10
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 16
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Ingest.IgnoreFile == "" {
		cfg.Ingest.IgnoreFile = ".semretignore"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 20
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 200
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 500
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
