// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/engram-dev/engram/internal/secrets"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func TestAPIKey_EnvWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	key, err := secrets.Resolver{}.APIKey("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", key)
}

func TestAPIKey_FallsBackToKeyring(t *testing.T) {
	keyring.MockInit()
	t.Setenv("ANTHROPIC_API_KEY", "")

	r := secrets.Resolver{Service: "engram-test"}
	require.NoError(t, r.StoreAPIKey("anthropic", "sk-from-keyring"))

	key, err := r.APIKey("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-keyring", key)
}

func TestAPIKey_Missing(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OPENAI_API_KEY", "")

	_, err := secrets.Resolver{Service: "engram-test-empty"}.APIKey("openai")
	require.Error(t, err)
	assert.Equal(t, engramerr.CodeSecretNotFound, engramerr.CodeOf(err))
}

func TestStoreAPIKey_Validation(t *testing.T) {
	keyring.MockInit()
	err := secrets.Resolver{}.StoreAPIKey("", "value")
	assert.True(t, engramerr.IsInvalidInput(err))
}
