package eddsa

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"custody-node/internal/mpcerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ceremony(t *testing.T) []*CombinedKey {
	t.Helper()
	shares := make([]*KeyShare, 3)
	for i := range shares {
		ks, err := GenerateShare(i+1, 2, 3, nil)
		require.NoError(t, err)
		shares[i] = ks
	}
	keys := make([]*CombinedKey, 3)
	for i, own := range shares {
		var peers []YShare
		for j, other := range shares {
			if j != i {
				peers = append(peers, other.YShares[i+1])
			}
		}
		ck, err := Combine(own, peers)
		require.NoError(t, err)
		keys[i] = ck
	}
	return keys
}

func TestCombineAgreement(t *testing.T) {
	keys := ceremony(t)
	for _, k := range keys[1:] {
		assert.Equal(t, keys[0].CommonKeychain, k.CommonKeychain)
		assert.Equal(t, keys[0].PShare.Y, k.PShare.Y)
	}
	assert.Len(t, keys[0].JShares, 2)
	raw, err := hex.DecodeString(keys[0].CommonKeychain)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestCombineRejectsTamperedShares(t *testing.T) {
	shares := make([]*KeyShare, 3)
	for i := range shares {
		ks, err := GenerateShare(i+1, 2, 3, nil)
		require.NoError(t, err)
		shares[i] = ks
	}

	t.Run("share value", func(t *testing.T) {
		bad := shares[1].YShares[1]
		bad.U = shares[1].YShares[3].U
		_, err := Combine(shares[0], []YShare{bad, shares[2].YShares[1]})
		assert.ErrorIs(t, err, mpcerr.ErrInvalidShareProof)
	})
	t.Run("commitment not bound to y", func(t *testing.T) {
		bad := shares[1].YShares[1]
		bad.Y = shares[2].UShare.Y
		_, err := Combine(shares[0], []YShare{bad, shares[2].YShares[1]})
		assert.ErrorIs(t, err, mpcerr.ErrInvalidShareProof)
	})
	t.Run("misaddressed", func(t *testing.T) {
		_, err := Combine(shares[0], []YShare{shares[1].YShares[3], shares[2].YShares[1]})
		assert.ErrorIs(t, err, mpcerr.ErrInvalidShareProof)
	})
	t.Run("missing peer", func(t *testing.T) {
		_, err := Combine(shares[0], []YShare{shares[1].YShares[1]})
		assert.ErrorIs(t, err, mpcerr.ErrValidation)
	})
}

func TestDeriveIsDeterministic(t *testing.T) {
	keys := ceremony(t)
	a, err := Derive(keys[0], "m/0/5")
	require.NoError(t, err)
	b, err := Derive(keys[2], "m/0/5")
	require.NoError(t, err)
	assert.Equal(t, a.PShare.Y, b.PShare.Y)
	assert.Equal(t, a.PShare.ChainCode, b.PShare.ChainCode)
	assert.NotEqual(t, keys[0].PShare.Y, a.PShare.Y)

	_, err = Derive(keys[0], "m/1'")
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}

func sign(t *testing.T, x, y *CombinedKey, path string, msg []byte) ([]byte, *SignState, *SignState, []RShare, []RShare) {
	t.Helper()
	dx, err := Derive(x, path)
	require.NoError(t, err)
	dy, err := Derive(y, path)
	require.NoError(t, err)
	set := []int{x.PShare.I, y.PShare.I}

	sx, cx, err := SignCommitment(dx, msg, set, nil)
	require.NoError(t, err)
	sy, cy, err := SignCommitment(dy, msg, set, nil)
	require.NoError(t, err)

	sx, rx, err := SignRShare(sx, map[int]Commitment{y.PShare.I: *cy})
	require.NoError(t, err)
	sy, ry, err := SignRShare(sy, map[int]Commitment{x.PShare.I: *cx})
	require.NoError(t, err)

	gsx, gx, err := SignGShare(sx, map[int]RShare{y.PShare.I: ry[0]})
	require.NoError(t, err)
	_, gy, err := SignGShare(sy, map[int]RShare{x.PShare.I: rx[0]})
	require.NoError(t, err)

	sig, err := SignCombine([]GShare{*gx, *gy}, msg)
	require.NoError(t, err)
	return sig, sx, gsx, rx, ry
}

func TestSignEveryPair(t *testing.T) {
	keys := ceremony(t)
	msg := []byte("solana transfer")
	for _, pair := range [][2]int{{0, 1}, {0, 2}, {2, 1}} {
		sig, _, _, _, _ := sign(t, keys[pair[0]], keys[pair[1]], "m/3", msg)
		d, err := Derive(keys[0], "m/3")
		require.NoError(t, err)
		pub, err := hex.DecodeString(d.PShare.Y)
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(pub, msg, sig), "pair %v", pair)
	}
}

func TestSigningOrder(t *testing.T) {
	keys := ceremony(t)
	msg := []byte("ordered")
	_, afterR, afterG, _, ry := sign(t, keys[0], keys[1], "m", msg)

	_, _, err := SignRShare(afterR, map[int]Commitment{2: {I: 2, Commitment: "00"}})
	assert.ErrorIs(t, err, mpcerr.ErrOutOfSequenceShare)
	_, _, err = SignGShare(afterG, map[int]RShare{2: ry[0]})
	assert.ErrorIs(t, err, mpcerr.ErrOutOfSequenceShare)

	d, err := Derive(keys[0], "m")
	require.NoError(t, err)
	fresh, _, err := SignCommitment(d, msg, []int{1, 2}, nil)
	require.NoError(t, err)
	_, _, err = SignGShare(fresh, map[int]RShare{2: ry[0]})
	assert.ErrorIs(t, err, mpcerr.ErrOutOfSequenceShare, "g-share before r-share")

	b, err := fresh.Bytes()
	require.NoError(t, err)
	restored, err := RestoreSignState(b)
	require.NoError(t, err)
	assert.Equal(t, fresh, restored)

	_, _, err = SignCommitment(d, msg, []int{2, 3}, nil)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}

func TestNonceCommitmentIsChecked(t *testing.T) {
	keys := ceremony(t)
	msg := []byte("commit")
	dx, err := Derive(keys[0], "m")
	require.NoError(t, err)
	dy, err := Derive(keys[1], "m")
	require.NoError(t, err)

	sx, _, err := SignCommitment(dx, msg, []int{1, 2}, nil)
	require.NoError(t, err)
	sy, cy, err := SignCommitment(dy, msg, []int{1, 2}, nil)
	require.NoError(t, err)
	sx, _, err = SignRShare(sx, map[int]Commitment{2: *cy})
	require.NoError(t, err)
	_, ry, err := SignRShare(sy, map[int]Commitment{1: {I: 1, Commitment: "ab"}})
	require.NoError(t, err)

	forged := ry[0]
	forged.R = sx.RPoint
	_, _, err = SignGShare(sx, map[int]RShare{2: forged})
	assert.ErrorIs(t, err, mpcerr.ErrInvalidShareProof)
}

func TestRecoverySign(t *testing.T) {
	keys := ceremony(t)
	msg := []byte("recover funds")
	sig, err := RecoverySign(keys[0], keys[1], "m/9", msg, nil)
	require.NoError(t, err)
	d, err := Derive(keys[2], "m/9")
	require.NoError(t, err)
	pub, err := hex.DecodeString(d.PShare.Y)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, msg, sig))

	_, err = RecoverySign(keys[0], keys[2], "m/9", msg, nil)
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}
