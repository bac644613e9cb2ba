// Package dkgtest runs complete in-memory DKG ceremonies for tests.
package dkgtest

import (
	"context"
	"custody-node/internal/network"
	"custody-node/internal/party"
	"custody-node/internal/tss/dkg"
	"fmt"
	"sync"

	"github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
)

// PaillierBits is the smallest modulus the MtA accepts, which keeps test
// ceremonies fast.
const PaillierBits = 1536

var (
	once   sync.Once
	shares []*dkg.KeyShare
	runErr error

	preOnce sync.Once
	pre     map[int]*keygen.LocalPreParams
	preErr  error
)

// PreParams returns the pre-parameters of party index. They are generated
// once per test binary, in parallel for all parties.
func PreParams(_ context.Context, index int) (*keygen.LocalPreParams, error) {
	preOnce.Do(func() {
		pre = make(map[int]*keygen.LocalPreParams, party.Total)
		errs := make([]error, party.Total+1)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for i := 1; i <= party.Total; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p, err := dkg.GeneratePreParams(context.Background(), PaillierBits, nil)
				mu.Lock()
				pre[i], errs[i] = p, err
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			if err != nil {
				preErr = fmt.Errorf("pre-parameters for party %d: %w", i, err)
				return
			}
		}
	})
	if preErr != nil {
		return nil, preErr
	}
	p, ok := pre[index]
	if !ok {
		return nil, fmt.Errorf("no pre-parameters for party %d", index)
	}
	return p, nil
}

// Shares returns the three key shares of one ceremony shared by the whole
// test binary, indexed by share index minus one.
func Shares() ([]*dkg.KeyShare, error) {
	once.Do(func() {
		shares, runErr = Run(context.Background())
	})
	return shares, runErr
}

// Run executes a fresh ceremony among all parties.
func Run(ctx context.Context) ([]*dkg.KeyShare, error) {
	n := party.Total
	states := make([]*dkg.State, n+1)

	r1 := make(map[int]network.Broadcast[dkg.Round1Payload], n)
	for i := 1; i <= n; i++ {
		pp, err := PreParams(ctx, i)
		if err != nil {
			return nil, err
		}
		st, out, err := dkg.Round1(ctx, dkg.Params{Index: i, PaillierBits: PaillierBits, PreParams: pp})
		if err != nil {
			return nil, fmt.Errorf("round 1 party %d: %w", i, err)
		}
		states[i], r1[i] = st, out
	}

	r2 := make(map[int]map[int]network.PointToPoint[dkg.Round2Payload], n)
	for i := 1; i <= n; i++ {
		st, outs, err := dkg.Round2(states[i], without(r1, i), nil)
		if err != nil {
			return nil, fmt.Errorf("round 2 party %d: %w", i, err)
		}
		states[i] = st
		route(r2, outs)
	}

	r3 := make(map[int]map[int]network.PointToPoint[dkg.Round3Payload], n)
	for i := 1; i <= n; i++ {
		st, outs, err := dkg.Round3(states[i], r2[i], nil)
		if err != nil {
			return nil, fmt.Errorf("round 3 party %d: %w", i, err)
		}
		states[i] = st
		route(r3, outs)
	}

	r4 := make(map[int]network.Broadcast[dkg.Round4Payload], n)
	for i := 1; i <= n; i++ {
		st, out, err := dkg.Round4(states[i], r3[i])
		if err != nil {
			return nil, fmt.Errorf("round 4 party %d: %w", i, err)
		}
		states[i], r4[i] = st, out
	}

	out := make([]*dkg.KeyShare, 0, n)
	for i := 1; i <= n; i++ {
		share, err := dkg.Finalize(states[i], without(r4, i), "")
		if err != nil {
			return nil, fmt.Errorf("finalize party %d: %w", i, err)
		}
		out = append(out, share)
	}
	return out, nil
}

func without[P any](in map[int]network.Broadcast[P], self int) map[int]network.Broadcast[P] {
	out := make(map[int]network.Broadcast[P], len(in)-1)
	for j, m := range in {
		if j != self {
			out[j] = m
		}
	}
	return out
}

func route[P any](inboxes map[int]map[int]network.PointToPoint[P], outs []network.PointToPoint[P]) {
	for _, m := range outs {
		if inboxes[m.To] == nil {
			inboxes[m.To] = make(map[int]network.PointToPoint[P])
		}
		inboxes[m.To][m.From] = m
	}
}
