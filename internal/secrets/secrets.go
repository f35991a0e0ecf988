// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package secrets resolves provider API keys: environment first, then
// the OS keyring (Keychain on macOS, secret-service on Linux,
// Credential Manager on Windows).
package secrets

import (
	"os"

	"github.com/zalando/go-keyring"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// keyringService is the service name under which engram keeps secrets.
const keyringService = "engram"

// Well-known environment variables per provider.
var providerEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Resolver looks up API keys. The zero value is usable.
type Resolver struct {
	// Service overrides the keyring service name (tests).
	Service string
}

func (r Resolver) service() string {
	if r.Service != "" {
		return r.Service
	}
	return keyringService
}

// APIKey resolves the key for a provider. Resolution order: the
// provider's well-known environment variable, then the OS keyring entry
// under the engram service.
func (r Resolver) APIKey(provider string) (string, error) {
	if envName, ok := providerEnv[provider]; ok {
		if v := os.Getenv(envName); v != "" {
			return v, nil
		}
	}

	v, err := keyring.Get(r.service(), provider)
	if err != nil {
		return "", engramerr.Wrapf(err, engramerr.CodeSecretNotFound,
			"no API key for provider %s (set %s or store one in the keyring)",
			provider, providerEnv[provider])
	}
	return v, nil
}

// StoreAPIKey saves a provider key in the OS keyring.
func (r Resolver) StoreAPIKey(provider, value string) error {
	if provider == "" || value == "" {
		return engramerr.New(engramerr.CodeValidateInputInvalid,
			"provider and value must not be empty")
	}
	if err := keyring.Set(r.service(), provider, value); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeInternalFailure,
			"storing API key for %s", provider)
	}
	return nil
}
