package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEnvelope(t *testing.T) {
	env, err := buildEnvelope(" email, ,sms", "card used abroad", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "sms"}, env.AlertTypes)
	assert.Equal(t, "card used abroad", env.Message)

	env, err = buildEnvelope("", `{"card":"4242","amount":12.5}`, true)
	require.NoError(t, err)
	assert.Equal(t, []string{}, env.AlertTypes)
	assert.Equal(t, map[string]any{"card": "4242", "amount": 12.5}, env.Message)

	_, err = buildEnvelope("sms", "{not json", true)
	assert.Error(t, err)
}
