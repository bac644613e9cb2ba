package hd

import (
	"crypto/rand"
	"testing"

	"custody-node/internal/mpcerr"
	"custody-node/internal/tss"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	p, err := ParsePath("m/0/1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, p)

	p, err = ParsePath("7")
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, p)

	p, err = ParsePath("m")
	require.NoError(t, err)
	assert.Empty(t, p)

	for _, bad := range []string{"m/0'/1", "m/1h", "m/x", "m/2147483648"} {
		_, err := ParsePath(bad)
		assert.ErrorIs(t, err, mpcerr.ErrValidation, bad)
	}
}

func TestDeriveTweakMatchesPublicKey(t *testing.T) {
	x := tss.RandomScalar(rand.Reader)
	pub := tss.BaseMult(x)
	cc := make([]byte, 32)
	_, err := rand.Read(cc)
	require.NoError(t, err)

	child, err := Derive(pub, cc, "m/0/1")
	require.NoError(t, err)
	childPriv := common.ModInt(tss.Order()).Add(x, child.Tweak)
	assert.True(t, tss.BaseMult(childPriv).Equals(child.PublicKey))
	assert.NotEqual(t, cc, child.ChainCode)

	again, err := Derive(pub, cc, "0/1")
	require.NoError(t, err)
	assert.True(t, again.PublicKey.Equals(child.PublicKey), "derivation is deterministic")

	root, err := Derive(pub, cc, "m")
	require.NoError(t, err)
	assert.True(t, root.PublicKey.Equals(pub))
	assert.Equal(t, 0, root.Tweak.Sign())

	_, err = Derive(pub, cc[:16], "m/0")
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}
