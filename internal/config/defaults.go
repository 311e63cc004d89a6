package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.egocoach",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			DBPath: "~/.egocoach/knowledge.db",
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
			SearchTopK:   3,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			TimeoutSeconds: 60,
		},
		Generation: GenerationConfig{
			Provider:       "ollama",
			TimeoutSeconds: 120,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "mistral",
			},
		},
	}
}
