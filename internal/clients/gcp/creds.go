package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptionsFromEnv builds shared client options. When
// GOOGLE_APPLICATION_CREDENTIALS_JSON is set it takes priority over the
// ambient credentials file.
func ClientOptionsFromEnv() []option.ClientOption {
	var opts []option.ClientOption
	if raw := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")); raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	}
	return opts
}
