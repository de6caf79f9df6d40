package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"resetwatch/config"
)

func hashForTest(t *testing.T, plain string) string {
	t.Helper()
	out, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(out)
}

func TestKeyringVerify(t *testing.T) {
	ring, err := NewKeyring([]config.APIKeyConfig{
		{Name: "dash", Hash: hashForTest(t, "view-key"), Role: RoleViewer},
		{Name: "bot", Hash: hashForTest(t, "ops-key"), Role: RoleOperator},
	})
	require.NoError(t, err)

	p, err := ring.Verify("ops-key")
	require.NoError(t, err)
	assert.Equal(t, "bot", p.Name)
	assert.Equal(t, RoleOperator, p.Role)

	again, err := ring.Verify(" ops-key ")
	require.NoError(t, err)
	assert.Equal(t, p, again)

	_, err = ring.Verify("nope")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ring.Verify("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyringRejectsMalformedHash(t *testing.T) {
	_, err := NewKeyring([]config.APIKeyConfig{{Name: "x", Hash: "plain-text", Role: RoleViewer}})
	assert.Error(t, err)

	ring, err := NewKeyring(nil)
	require.NoError(t, err)
	assert.True(t, ring.Empty())
}

func TestHashKeyRoundTrip(t *testing.T) {
	hash, err := HashKey("secret")
	require.NoError(t, err)
	ring, err := NewKeyring([]config.APIKeyConfig{{Name: "x", Hash: hash, Role: RoleViewer}})
	require.NoError(t, err)
	_, err = ring.Verify("secret")
	assert.NoError(t, err)

	_, err = HashKey("  ")
	assert.Error(t, err)
}

func TestPolicyRoles(t *testing.T) {
	p, err := NewPolicy()
	require.NoError(t, err)

	assert.True(t, p.Allowed(RoleViewer, PermView))
	assert.False(t, p.Allowed(RoleViewer, PermManage))
	assert.True(t, p.Allowed(RoleOperator, PermView))
	assert.True(t, p.Allowed(RoleOperator, PermManage))
	assert.False(t, p.Allowed("", PermView))
	assert.False(t, p.Allowed("admin", PermView))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	ctx := WithPrincipal(context.Background(), &Principal{Name: "a", Role: RoleViewer})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", p.Name)
}
