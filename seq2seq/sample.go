// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seq2seq

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/seqtrain/tensors"
)

// NetInputKeys are the mini-batch fields forwarded to the model's forward pass,
// in the order the model consumes them.
var NetInputKeys = []string{"src_tokens", "src_positions", "input_tokens", "input_positions"}

// Sample is one prepared mini-batch.
type Sample struct {
	// ID holds the corpus ids of the sentences in the batch.
	ID *tensors.Tensor

	// NTokens is the number of (non-pad) target tokens in the batch.
	NTokens int

	// Target holds the gold target tokens.
	Target *tensors.Tensor

	// NetInput are the model inputs, keyed by NetInputKeys.
	NetInput map[string]*tensors.Tensor
}

// PrepareSample wraps the raw arrays of a mini-batch into the Sample consumed by
// a model's forward pass, tagging every tensor with the given device.
//
// The raw map must contain "id", "target" and every key in NetInputKeys.
func PrepareSample(raw map[string]*tensors.Tensor, ntokens int, device tensors.Device) *Sample {
	get := func(key string) *tensors.Tensor {
		t, found := raw[key]
		if !found {
			exceptions.Panicf("PrepareSample: mini-batch is missing field %q", key)
		}
		return t.To(device)
	}
	sample := &Sample{
		ID:       get("id"),
		NTokens:  ntokens,
		Target:   get("target"),
		NetInput: make(map[string]*tensors.Tensor, len(NetInputKeys)),
	}
	for _, key := range NetInputKeys {
		sample.NetInput[key] = get(key)
	}
	return sample
}

// LstripPad returns tokens with all leading pad entries removed.
// The returned slice aliases the input.
func LstripPad(tokens []int, pad int) []int {
	start := 0
	for start < len(tokens) && tokens[start] == pad {
		start++
	}
	return tokens[start:]
}

// RstripPad returns tokens with all trailing pad entries removed.
// The returned slice aliases the input.
func RstripPad(tokens []int, pad int) []int {
	end := len(tokens)
	for end > 0 && tokens[end-1] == pad {
		end--
	}
	return tokens[:end]
}
