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

// Package hostcall abstracts how privileged protection operations are
// carried out.
//
// Two interchangeable strategies implement Backend: Native issues the
// corresponding OS primitives directly (pkey_alloc, pkey_mprotect, mmap,
// RDPKRU/WRPKRU), while Guest serializes each operation into a fixed-size
// request buffer handed to the single host hook available inside a
// restricted guest runtime. The isolation core selects one at configuration
// time and never touches privileged state itself.
package hostcall

import (
	"pkugate.dev/pkugate/pkg/pkru"
)

// NoKey is returned by CreateDomain when the backend declined to grant a
// protection key. It is a normal outcome (key exhaustion), not an error;
// callers must check for it explicitly.
const NoKey = -1

// Backend performs privileged protection operations on behalf of the
// isolation core.
//
// Implementations translate their failures into the pkuerr taxonomy. A key
// index outside 0..15 returned by the underlying primitive is reported as
// NoKey, never propagated.
type Backend interface {
	// CreateDomain allocates a fresh protection key. It returns NoKey
	// with a nil error if no key can be granted.
	CreateDomain(flags uint32) (int, error)

	// ProtectRange tags [addr, addr+length) with key under protection
	// bits prot.
	ProtectRange(addr, length uintptr, prot, key int) error

	// MapMemory establishes a new mapping and returns its address.
	MapMemory(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error)

	// UnmapMemory removes a mapping.
	UnmapMemory(addr, length uintptr) error

	// ReadRegister samples the protection-control register. When the
	// true register cannot be sampled the conservative fallback image is
	// returned instead, never a guessed-open value.
	ReadRegister() (pkru.Value, error)

	// WriteRegister commits a register image.
	WriteRegister(v pkru.Value) error
}
