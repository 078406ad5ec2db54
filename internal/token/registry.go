package token

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves token addresses to ledgers.
type Registry struct {
	tokens map[common.Address]Token
}

func NewRegistry(tokens ...Token) *Registry {
	r := &Registry{tokens: make(map[common.Address]Token)}
	for _, t := range tokens {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Token) {
	r.tokens[t.Address()] = t
}

func (r *Registry) Token(address common.Address) (Token, error) {
	t, ok := r.tokens[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, address.Hex())
	}
	return t, nil
}

// Ledger returns the reference ledger at address, for owner operations.
func (r *Registry) Ledger(address common.Address) (*Ledger, error) {
	t, err := r.Token(address)
	if err != nil {
		return nil, err
	}
	l, ok := t.(*Ledger)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a managed ledger", ErrUnknownToken, address.Hex())
	}
	return l, nil
}

// All returns registered tokens ordered by symbol.
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}
