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

// Package fake provides an in-memory hostcall.Backend for tests and for
// the pkuctl selftest. It models the protection-control register, a finite
// key pool, and a bump allocator for mappings, and can inject failures per
// operation.
package fake

import (
	"pkugate.dev/pkugate/pkg/hostcall"
	"pkugate.dev/pkugate/pkg/pkru"
	"pkugate.dev/pkugate/pkg/sync"
)

// ProtectOp records one ProtectRange call.
type ProtectOp struct {
	Addr   uintptr
	Length uintptr
	Prot   int
	Key    int
}

// Backend is an in-memory hostcall.Backend. The zero value is not usable;
// call New.
type Backend struct {
	mu sync.Mutex

	// Register is the simulated protection-control register.
	Register pkru.Value

	// NextKey is the next key index CreateDomain grants. Tests rewind it
	// to model the host re-granting a freed key.
	NextKey int

	nextAddr uintptr

	// Recorded operations, in call order.
	Protects []ProtectOp
	Unmaps   []uintptr
	Writes   []pkru.Value

	// Injected failures. A nil field means the operation succeeds.
	CreateErr  error
	ProtectErr error
	MapErr     error
	UnmapErr   error
	ReadErr    error
	WriteErr   error
}

var _ hostcall.Backend = (*Backend)(nil)

// New returns a fake backend with the conservative register image loaded
// and keys 1..15 available.
func New() *Backend {
	return &Backend{
		Register: pkru.Conservative,
		NextKey:  1,
		nextAddr: 0x7f0000000000,
	}
}

// CreateDomain grants sequential keys until the pool is exhausted, after
// which it reports hostcall.NoKey like real hardware out of pkeys.
func (b *Backend) CreateDomain(flags uint32) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		return hostcall.NoKey, b.CreateErr
	}
	if b.NextKey >= pkru.NumKeys {
		return hostcall.NoKey, nil
	}
	key := b.NextKey
	b.NextKey++
	return key, nil
}

// ProtectRange implements hostcall.Backend.ProtectRange.
func (b *Backend) ProtectRange(addr, length uintptr, prot, key int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProtectErr != nil {
		return b.ProtectErr
	}
	b.Protects = append(b.Protects, ProtectOp{Addr: addr, Length: length, Prot: prot, Key: key})
	return nil
}

// MapMemory implements hostcall.Backend.MapMemory with a bump allocator.
func (b *Backend) MapMemory(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MapErr != nil {
		return 0, b.MapErr
	}
	granted := b.nextAddr
	b.nextAddr += length
	return granted, nil
}

// UnmapMemory implements hostcall.Backend.UnmapMemory.
func (b *Backend) UnmapMemory(addr, length uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.UnmapErr != nil {
		return b.UnmapErr
	}
	b.Unmaps = append(b.Unmaps, addr)
	return nil
}

// ReadRegister implements hostcall.Backend.ReadRegister.
func (b *Backend) ReadRegister() (pkru.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return pkru.Conservative, b.ReadErr
	}
	return b.Register, nil
}

// WriteRegister implements hostcall.Backend.WriteRegister.
func (b *Backend) WriteRegister(v pkru.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.Register = v
	b.Writes = append(b.Writes, v)
	return nil
}
