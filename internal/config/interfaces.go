package config

import "context"

// SecretProvider resolves secret paths to plaintext values. Paths it cannot
// resolve are either omitted from the map or reported as an error.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
