package prober

import (
	"os"
	"strings"
)

// CredentialResolver turns a tier's CredentialRef into the secret to send.
// An empty result means the credential is not configured.
type CredentialResolver interface {
	Resolve(ref string) string
}

// EnvCredentials reads credentials from environment variables named by the ref.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(ref string) string {
	return strings.TrimSpace(os.Getenv(ref))
}

// StaticCredentials resolves refs from a fixed map.
type StaticCredentials map[string]string

func (s StaticCredentials) Resolve(ref string) string {
	return strings.TrimSpace(s[ref])
}
