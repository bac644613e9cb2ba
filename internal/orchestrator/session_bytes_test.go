package orchestrator

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"testing"

	"custody-node/internal/mpcerr"
	"custody-node/internal/tss/eddsa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStrictRequiresCanonicalBytes(t *testing.T) {
	share, err := eddsa.GenerateShare(1, 2, 3, rand.Reader)
	require.NoError(t, err)
	b, err := json.Marshal(share)
	require.NoError(t, err)

	var back eddsa.KeyShare
	require.NoError(t, decodeStrict(b, &back))
	again, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.Equal(t, b, again)

	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, b, "", "  "))

	cases := map[string][]byte{
		"trailing space":    append(append([]byte(nil), b...), ' '),
		"trailing document": append(append([]byte(nil), b...), []byte(`{}`)...),
		"leading space":     append([]byte(" "), b...),
		"indented":          indented.Bytes(),
		"unknown field":     append([]byte(`{"extra":1,`), b[1:]...),
		"truncated":         b[:len(b)-1],
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var ks eddsa.KeyShare
			assert.ErrorIs(t, decodeStrict(in, &ks), mpcerr.ErrValidation)
		})
	}
}

func TestRestoreEddsaSessionRejectsPadding(t *testing.T) {
	b, err := json.Marshal(eddsaSignSession{State: []byte(`{}`)})
	require.NoError(t, err)
	var s eddsaSignSession
	require.NoError(t, decodeStrict(b, &s))

	_, _, err = restoreEddsaSession(append(b, '\n'))
	assert.ErrorIs(t, err, mpcerr.ErrValidation)
}
