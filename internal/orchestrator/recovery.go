package orchestrator

import (
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/mpcerr"
	"custody-node/internal/party"
	"custody-node/internal/tss/dsg"
	"custody-node/internal/tss/eddsa"
	"encoding/hex"
)

const recoveryProtocol = "recovery"

// EcdsaRecoverySign signs a 32-byte hash with the initiator and counterparty
// shares in one call. The coordinator share is never loaded.
func (o *Orchestrator) EcdsaRecoverySign(ctx context.Context, req *dto.RecoverySignRequest) (resp *dto.SignResponse, err error) {
	defer o.track(dsg.Protocol+"-"+recoveryProtocol, party.Initiator, 1)(&err)

	if !o.recovery {
		return nil, ErrRecoveryDisabled
	}
	hash, err := hex.DecodeString(req.Message)
	if err != nil {
		return nil, mpcerr.Validationf("message hash: %v", err)
	}
	initiator, err := o.loadEcdsaShare(ctx, req.CommonKeychain, party.Initiator)
	if err != nil {
		return nil, err
	}
	counterparty, err := o.loadEcdsaShare(ctx, req.CommonKeychain, party.Counterparty)
	if err != nil {
		return nil, err
	}
	sig, err := dsg.RecoverySign(initiator, counterparty, req.Path, hash, o.rand)
	if err != nil {
		return nil, err
	}
	return ecdsaResponse(sig, hash), nil
}

// EddsaRecoverySign signs a message with the initiator and counterparty keys
// in one call.
func (o *Orchestrator) EddsaRecoverySign(ctx context.Context, req *dto.RecoverySignRequest) (resp *dto.SignResponse, err error) {
	defer o.track(EddsaSignProtocol+"-"+recoveryProtocol, party.Initiator, 1)(&err)

	if !o.recovery {
		return nil, ErrRecoveryDisabled
	}
	message, err := hex.DecodeString(req.Message)
	if err != nil {
		return nil, mpcerr.Validationf("message: %v", err)
	}
	initiator, err := o.loadEddsaKey(ctx, req.CommonKeychain, party.Initiator)
	if err != nil {
		return nil, err
	}
	counterparty, err := o.loadEddsaKey(ctx, req.CommonKeychain, party.Counterparty)
	if err != nil {
		return nil, err
	}
	sig, err := eddsa.RecoverySign(initiator, counterparty, req.Path, message, o.rand)
	if err != nil {
		return nil, err
	}
	derived, err := eddsa.Derive(initiator, req.Path)
	if err != nil {
		return nil, err
	}
	return &dto.SignResponse{Eddsa: &dto.EddsaSignature{
		Signature: hex.EncodeToString(sig),
		PublicKey: derived.PShare.Y,
	}}, nil
}
