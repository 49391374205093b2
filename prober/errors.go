package prober

import "github.com/Laisky/errors/v2"

var (
	// ErrInvalidConfig is returned for batch sizes or concurrency settings that cannot run.
	ErrInvalidConfig = errors.New("invalid batch configuration")
	// ErrInvalidPolicy is returned for tier policies that cannot be validated.
	ErrInvalidPolicy = errors.New("invalid tier policy")
	// ErrCredentialMissing means the tier's credential is not configured; callers skip the tier.
	ErrCredentialMissing = errors.New("credential not configured")
)
