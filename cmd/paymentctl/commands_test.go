package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_STORE_DRIVER", "memory")
	t.Setenv("APP_QUEUE_DRIVER", "memory")
	t.Setenv("APP_RECONCILE_EXPORT_DIR", t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReconcile_EmptyStore(t *testing.T) {
	out, err := execute(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 0")
	assert.NotContains(t, out, "report:")
}

func TestReplay_UnknownCheckout(t *testing.T) {
	_, err := execute(t, "replay", "ws_CO_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRetry_InvalidID(t *testing.T) {
	_, err := execute(t, "retry", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transaction id")
}

func TestToken(t *testing.T) {
	t.Setenv("APP_OPERATOR_JWT_SECRET", "ops-secret")
	out, err := execute(t, "token", "--subject", "alice")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("ops-secret"), nil
	})
	require.NoError(t, err)
	sub, _ := claims.GetSubject()
	assert.Equal(t, "alice", sub)
	assert.Equal(t, true, claims["adm"])
}

func TestToken_RequiresSecret(t *testing.T) {
	_, err := execute(t, "token")
	assert.Error(t, err)
}
