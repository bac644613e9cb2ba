package eddsa

import (
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"io"
)

// RecoverySign signs message with the initiator and counterparty keys in one
// call, running the three signing steps for both in memory.
func RecoverySign(initiator, counterparty *CombinedKey, path string, message []byte, rnd io.Reader) ([]byte, error) {
	if initiator == nil || counterparty == nil {
		return nil, mpcerr.Validationf("recovery needs both the initiator and counterparty keys")
	}
	a, b := initiator.PShare.I, counterparty.PShare.I
	if a != party.Initiator.Index() || b != party.Counterparty.Index() {
		return nil, mpcerr.Validationf("recovery keys must belong to the initiator and counterparty, got %d and %d", a, b)
	}
	if initiator.CommonKeychain != counterparty.CommonKeychain {
		return nil, mpcerr.ErrKeychainMismatch
	}

	dA, err := Derive(initiator, path)
	if err != nil {
		return nil, err
	}
	dB, err := Derive(counterparty, path)
	if err != nil {
		return nil, err
	}
	signers := []int{a, b}

	stA, cA, err := SignCommitment(dA, message, signers, rnd)
	if err != nil {
		return nil, err
	}
	stB, cB, err := SignCommitment(dB, message, signers, rnd)
	if err != nil {
		return nil, err
	}

	stA, rA, err := SignRShare(stA, map[int]Commitment{b: *cB})
	if err != nil {
		return nil, err
	}
	stB, rB, err := SignRShare(stB, map[int]Commitment{a: *cA})
	if err != nil {
		return nil, err
	}

	_, gA, err := SignGShare(stA, map[int]RShare{b: rB[0]})
	if err != nil {
		return nil, err
	}
	_, gB, err := SignGShare(stB, map[int]RShare{a: rA[0]})
	if err != nil {
		return nil, err
	}
	return SignCombine([]GShare{*gA, *gB}, message)
}
