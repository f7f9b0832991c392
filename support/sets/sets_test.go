// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := MakeWith("a", "b", "c")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("d"))

	s.Insert("d")
	assert.True(t, s.Has("d"))

	inter := s.Intersect(MakeWith("b", "d", "e"))
	assert.Len(t, inter, 2)
	assert.True(t, inter.Has("b"))
	assert.True(t, inter.Has("d"))

	sub := s.Sub(MakeWith("a", "b"))
	assert.Len(t, sub, 2)
	assert.True(t, sub.Has("c"))
	assert.True(t, sub.Has("d"))
}
