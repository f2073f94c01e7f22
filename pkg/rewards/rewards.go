// Package rewards routes the Developer share of each fee split to the
// deployer of the transaction's destination contract (spec §4.7).
//
// Grounded on the teacher's pkg/incentives/ecosystem_rewards.go
// (developerContributions map, RewardContractDeployment flow), trimmed
// to the spec's narrower attribution rule: no onboarding bonuses or
// vesting schedules, since the spec calls for none.
package rewards

import "github.com/sjxcrypto/trv1-chain/pkg/crypto"

// Registry maps a deployed contract address to the Address that
// deployed it (spec §4.7).
type Registry struct {
	deployerOf map[crypto.PublicKey]crypto.PublicKey
}

// NewRegistry constructs an empty deployer registry.
func NewRegistry() *Registry {
	return &Registry{deployerOf: make(map[crypto.PublicKey]crypto.PublicKey)}
}

// RecordDeployment records that deployer deployed contract (called by
// the executor when it observes a tx with the §4.7 deploy marker).
func (r *Registry) RecordDeployment(deployer, contract crypto.PublicKey) {
	r.deployerOf[contract] = deployer
}

// DeployerOf returns the recorded deployer of contract, if any.
func (r *Registry) DeployerOf(contract crypto.PublicKey) (crypto.PublicKey, bool) {
	d, ok := r.deployerOf[contract]
	return d, ok
}

// Clone returns a deep copy usable as disposable scratch state:
// recording a deployment on it never touches r. Used by the executor's
// speculative proposal path.
func (r *Registry) Clone() *Registry {
	out := &Registry{deployerOf: make(map[crypto.PublicKey]crypto.PublicKey, len(r.deployerOf))}
	for contract, deployer := range r.deployerOf {
		out.deployerOf[contract] = deployer
	}
	return out
}

// Recipient resolves where a transaction's Developer fee-split bucket
// should be routed: the deployer of `to`, or treasury if `to` has no
// recorded deployer (spec §4.7).
func (r *Registry) Recipient(to crypto.PublicKey, treasury crypto.PublicKey) crypto.PublicKey {
	if deployer, ok := r.deployerOf[to]; ok {
		return deployer
	}
	return treasury
}
