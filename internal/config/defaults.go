package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/pricematch/data/pricematch.db"
	}
	if cfg.Storage.MongoDatabase == "" {
		cfg.Storage.MongoDatabase = "pricematch"
	}
	if cfg.Embedding.DefaultModel == "" {
		cfg.Embedding.DefaultModel = "cohere"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 96
	}
	if cfg.Embedding.MaxAttempts == 0 {
		cfg.Embedding.MaxAttempts = 3
	}
	if cfg.Embedding.RequestTimeoutSeconds == 0 {
		cfg.Embedding.RequestTimeoutSeconds = 10
	}
	if cfg.Embedding.RateLimit == 0 {
		cfg.Embedding.RateLimit = 5
	}
	if cfg.Embedding.Burst == 0 {
		cfg.Embedding.Burst = 10
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Matching.SemanticWeight == 0 {
		cfg.Matching.SemanticWeight = 0.85
	}
	if cfg.Matching.LexicalWeight == 0 {
		cfg.Matching.LexicalWeight = 0.15
	}
	if cfg.Batch.MaxConcurrent == 0 {
		cfg.Batch.MaxConcurrent = 2
	}
	if cfg.Batch.QueueSize == 0 {
		cfg.Batch.QueueSize = 64
	}
	if cfg.Batch.JobTimeoutMinutes == 0 {
		cfg.Batch.JobTimeoutMinutes = 10
	}
	if cfg.Inbox.Model == "" {
		cfg.Inbox.Model = cfg.Embedding.DefaultModel
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".xlsx", ".csv"}
	}
}
