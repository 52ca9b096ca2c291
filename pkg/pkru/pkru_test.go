// Copyright 2026 The pkugate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pkru

import (
	"testing"
)

func TestSetGet(t *testing.T) {
	for key := uint8(0); key < NumKeys; key++ {
		for _, p := range []Perm{0, DisableAccess, DisableWrite, DisableAccess | DisableWrite} {
			v := Set(0, key, p)
			if got, want := Get(v, key), p; got != want {
				t.Errorf("Get(Set(0, %d, %#x), %d): got %#x, wanted %#x", key, p, key, got, want)
			}
		}
	}
}

func TestSetPreservesOtherKeys(t *testing.T) {
	v := Conservative
	got := Set(v, 5, DisableWrite)
	for key := uint8(0); key < NumKeys; key++ {
		want := Get(v, key)
		if key == 5 {
			want = DisableWrite
		}
		if g := Get(got, key); g != want {
			t.Errorf("key %d: got %#x, wanted %#x", key, g, want)
		}
	}
}

func TestSetIdempotent(t *testing.T) {
	for key := uint8(0); key < NumKeys; key++ {
		for _, p := range []Perm{0, DisableAccess, DisableWrite, PermMask} {
			once := Set(Conservative, key, p)
			twice := Set(once, key, p)
			if once != twice {
				t.Errorf("Set(key=%d, p=%#x) not idempotent: %#x vs %#x", key, p, once, twice)
			}
		}
	}
}

func TestConservativeFailsClosed(t *testing.T) {
	// Key 0 fully enabled, every other key access-disabled.
	if got, want := Get(Conservative, 0), Perm(0); got != want {
		t.Errorf("key 0: got %#x, wanted %#x", got, want)
	}
	for key := uint8(1); key < NumKeys; key++ {
		if Get(Conservative, key)&DisableAccess == 0 {
			t.Errorf("key %d: access not disabled in conservative image", key)
		}
	}
}

func TestPermValid(t *testing.T) {
	for _, tc := range []struct {
		p    Perm
		want bool
	}{
		{0, true},
		{DisableAccess, true},
		{DisableWrite, true},
		{PermMask, true},
		{0x4, false},
		{PermMask | 0x8, false},
	} {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("Perm(%#x).Valid(): got %v, wanted %v", tc.p, got, tc.want)
		}
	}
}

func TestKeyValid(t *testing.T) {
	for _, tc := range []struct {
		key  int
		want bool
	}{
		{0, true},
		{15, true},
		{16, false},
		{-1, false},
	} {
		if got := KeyValid(tc.key); got != tc.want {
			t.Errorf("KeyValid(%d): got %v, wanted %v", tc.key, got, tc.want)
		}
	}
}
