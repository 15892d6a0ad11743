package wallet

import (
	"fmt"

	"github.com/depools/mms/client/types"
)

// Phase is the multisig lifecycle state of the wallet. It only ever
// moves forward; ExchangingKeys may repeat for engines that need more
// than one exchange round.
type Phase string

const (
	PhaseNotMultisig    = Phase("not_multisig")
	PhaseKeysPrepared   = Phase("keys_prepared")
	PhaseExchangingKeys = Phase("exchanging_keys")
	PhaseFinalized      = Phase("finalized")
)

func (p Phase) String() string {
	return string(p)
}

var phaseTransitions = map[Phase][]Phase{
	PhaseNotMultisig:    {PhaseKeysPrepared},
	PhaseKeysPrepared:   {PhaseExchangingKeys, PhaseFinalized},
	PhaseExchangingKeys: {PhaseExchangingKeys, PhaseFinalized},
	PhaseFinalized:      {},
}

// CanAdvance reports whether moving to next is a legal transition.
func (p Phase) CanAdvance(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Advance validates and returns the next phase. Engines call this on
// every phase change so an out-of-order exchange cannot corrupt state.
func (p Phase) Advance(next Phase) (Phase, error) {
	if !p.CanAdvance(next) {
		return p, fmt.Errorf("phase %s -> %s: %w", p, next, types.ErrInvalidTransition)
	}
	return next, nil
}
