package temporalx

import (
	"os"
	"strings"
)

type Config struct {
	Address   string
	Namespace string

	// CoreTaskQueue hosts cheap deterministic work (parsing, chunking,
	// merging, persistence). LLMTaskQueue hosts the model-bound activities
	// so their concurrency can be throttled independently.
	CoreTaskQueue string
	LLMTaskQueue  string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

func LoadConfig() Config {
	return Config{
		Address:   strings.TrimSpace(os.Getenv("TEMPORAL_ADDRESS")),
		Namespace: stringsOr(strings.TrimSpace(os.Getenv("TEMPORAL_NAMESPACE")), "kpforge"),

		CoreTaskQueue: stringsOr(strings.TrimSpace(os.Getenv("TEMPORAL_CORE_TASK_QUEUE")), "proposal-core"),
		LLMTaskQueue:  stringsOr(strings.TrimSpace(os.Getenv("TEMPORAL_LLM_TASK_QUEUE")), "proposal-llm"),

		ClientCertPath: strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_CERT_PATH")),
		ClientKeyPath:  strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_KEY_PATH")),
		ClientCAPath:   strings.TrimSpace(os.Getenv("TEMPORAL_CLIENT_CA_PATH")),
	}
}

func stringsOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
