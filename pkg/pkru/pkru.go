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

// Package pkru encodes per-key access rights into protection-control
// register (PKRU) images.
//
// The register dedicates two bits to each of the 16 protection keys: bit
// 2*key disables all access through pages tagged with that key, bit 2*key+1
// disables writes. The codec here is pure; committing an image to hardware
// (or to the guest runtime's emulation of it) is the host-call backend's job.
package pkru

// Perm is the per-key permission field: a bitwise OR of DisableAccess and
// DisableWrite. The zero Perm grants full access.
type Perm uint32

const (
	// DisableAccess forbids all data access through the key.
	DisableAccess Perm = 0x1

	// DisableWrite forbids writes through the key.
	DisableWrite Perm = 0x2

	// PermMask covers every recognized permission bit.
	PermMask Perm = DisableAccess | DisableWrite
)

// Valid reports whether p contains only recognized permission bits.
func (p Perm) Valid() bool {
	return p&^PermMask == 0
}

// Value is a complete protection-control register image.
type Value uint32

// Conservative is the register image assumed whenever the true register
// cannot be sampled: every key except key 0 is fully disabled. Substituting
// it for an unknown register keeps domain switching fail-closed.
const Conservative Value = 0x55555554

// NumKeys is the number of protection key slots in the register.
const NumKeys = 16

// KeyValid reports whether key names one of the register's key slots.
func KeyValid(key int) bool {
	return key >= 0 && key < NumKeys
}

// Set returns v with key's two-bit field replaced by p. All other keys'
// bits are preserved. Set is idempotent in (key, p).
func Set(v Value, key uint8, p Perm) Value {
	shift := 2 * uint32(key)
	v &^= Value(PermMask) << shift
	return v | Value(p&PermMask)<<shift
}

// Get extracts key's permission field from v.
func Get(v Value, key uint8) Perm {
	return Perm(v>>(2*uint32(key))) & PermMask
}
