package party

import (
	"testing"

	"custody-node/internal/mpcerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleIndexes(t *testing.T) {
	for i, r := range All {
		assert.Equal(t, i+1, r.Index())
		back, err := FromIndex(i + 1)
		require.NoError(t, err)
		assert.Equal(t, r, back)
	}
	_, err := FromIndex(4)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
	assert.False(t, Role("observer").Valid())
}

func TestParse(t *testing.T) {
	r, err := Parse("counterparty")
	require.NoError(t, err)
	assert.Equal(t, Counterparty, r)

	_, err = Parse("bitgo")
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}

func TestPeers(t *testing.T) {
	assert.Equal(t, []Role{Counterparty, Coordinator}, Peers(Initiator))
	assert.Equal(t, []Role{Initiator, Counterparty}, Peers(Coordinator))
	assert.Equal(t, []int{1, 3}, Indexes([]Role{Coordinator, Initiator}))
}

func TestSigningPair(t *testing.T) {
	assert.NoError(t, SigningPair(Initiator, Coordinator))
	assert.ErrorIs(t, SigningPair(Initiator, Initiator), mpcerr.ErrValidation)
	assert.ErrorIs(t, SigningPair(Initiator, "nobody"), mpcerr.ErrValidation)
}
