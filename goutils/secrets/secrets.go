package secrets

import "os"

// Provider resolves named credentials at runtime. The presence of an OS-level
// secret store is a runtime capability, callers only see this interface.
type Provider interface {
	Get(name string) (string, bool)
}

// EnvProvider resolves credentials from environment variables.
type EnvProvider struct{}

var _ Provider = (*EnvProvider)(nil)

// DefaultProvider returns the environment-variable-backed provider.
func DefaultProvider() Provider {
	return &EnvProvider{}
}

func (e *EnvProvider) Get(name string) (string, bool) {
	val, ok := os.LookupEnv(name)
	if val == "" {
		return "", false
	}

	return val, ok
}
