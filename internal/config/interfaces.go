package config

import "context"

// SecretProvider abstracts secret retrieval so the loader can resolve values
// from AWS SSM Parameter Store in deployed environments and from plain
// environment variables in local development. The indirection also enables
// testing without AWS credentials.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values, batching requests
	// internally to stay under provider API limits. The keys slice contains
	// the SSM parameter paths (or equivalent identifiers) to resolve.
	// Returns a map of key -> plaintext value for all successfully resolved
	// parameters; unresolved keys are simply absent from the map.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
