// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vocab implements Dictionary, an ordered token vocabulary with a
// token to index lookup and the usual special symbols (padding, end-of-sentence
// and unknown).
//
// Dictionaries are built once (typically from preprocessed corpus data) and are
// read-only afterward: the embeddings and ensemble packages only ever read them.
package vocab

import (
	"github.com/gomlx/exceptions"
)

// Default special symbols. They are always the first entries of a new Dictionary.
const (
	PadSymbol = "<pad>"
	EosSymbol = "</s>"
	UnkSymbol = "<unk>"
)

// Dictionary is an ordered sequence of tokens with a lookup from token to index.
type Dictionary struct {
	symbols []string
	indices map[string]int

	padIndex, eosIndex, unkIndex int
}

// New creates a Dictionary pre-populated with the special pad, eos and unk symbols.
func New() *Dictionary {
	d := &Dictionary{indices: make(map[string]int)}
	d.padIndex = d.AddSymbol(PadSymbol)
	d.eosIndex = d.AddSymbol(EosSymbol)
	d.unkIndex = d.AddSymbol(UnkSymbol)
	return d
}

// NewWithSymbols creates a Dictionary with the special symbols followed by the
// given tokens, in order.
func NewWithSymbols(tokens ...string) *Dictionary {
	d := New()
	for _, token := range tokens {
		d.AddSymbol(token)
	}
	return d
}

// AddSymbol adds a token to the dictionary and returns its index.
// Adding an existing token is a no-op that returns the existing index.
func (d *Dictionary) AddSymbol(token string) int {
	if idx, found := d.indices[token]; found {
		return idx
	}
	idx := len(d.symbols)
	d.symbols = append(d.symbols, token)
	d.indices[token] = idx
	return idx
}

// Len returns the number of tokens in the dictionary, special symbols included.
func (d *Dictionary) Len() int { return len(d.symbols) }

// Symbol returns the token at the given index.
func (d *Dictionary) Symbol(idx int) string {
	if idx < 0 || idx >= len(d.symbols) {
		exceptions.Panicf("vocab.Dictionary: index %d out of range [0, %d)", idx, len(d.symbols))
	}
	return d.symbols[idx]
}

// Index returns the index of the given token, or the unknown symbol's index if
// the token is not in the dictionary.
func (d *Dictionary) Index(token string) int {
	if idx, found := d.indices[token]; found {
		return idx
	}
	return d.unkIndex
}

// Contains reports whether the token is in the dictionary.
func (d *Dictionary) Contains(token string) bool {
	_, found := d.indices[token]
	return found
}

// Pad returns the index of the padding symbol.
func (d *Dictionary) Pad() int { return d.padIndex }

// Eos returns the index of the end-of-sentence symbol.
func (d *Dictionary) Eos() int { return d.eosIndex }

// Unk returns the index of the unknown symbol.
func (d *Dictionary) Unk() int { return d.unkIndex }

// Symbols returns the tokens in index order. The returned slice is owned by the
// dictionary, don't change it.
func (d *Dictionary) Symbols() []string { return d.symbols }
