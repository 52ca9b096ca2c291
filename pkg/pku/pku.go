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

// Package pku implements intra-process memory isolation on top of hardware
// memory protection keys.
//
// A process is partitioned into mutually distrusting domains. Each domain
// holds a protection key and a pair of disable-access/disable-write
// permission bits; memory pages tagged with a domain's key are reachable
// only while that domain's rights are loaded into the protection-control
// register. Control transfers between domains go through registered call
// gates ("pkucalls"): the only legitimate way the active protection may
// change is Switch on a slot that was registered in advance for a specific
// entry point in the target domain, bracketed by Restore on every exit path.
//
// All state lives in a Context with explicit Init/Deinit. Tables are fixed
// size; exhausting one is an observable contract (ErrResourceExhausted),
// not an implementation accident.
package pku

import (
	"github.com/sirupsen/logrus"

	"pkugate.dev/pkugate/pkg/hostcall"
	"pkugate.dev/pkugate/pkg/pkru"
	"pkugate.dev/pkugate/pkg/sync"
)

const (
	// NumDomains is the size of the domain table. It matches the number
	// of protection key slots in the control register.
	NumDomains = 16

	// NumCalls is the size of the registered pkucall table.
	NumCalls = 64

	// NumRanges is the size of the memory range table.
	NumRanges = 4096

	// PageSize is the page size the range bookkeeping assumes. Init
	// refuses to run on a host with a different page size.
	PageSize = 4096

	// RootDomain is the unrestricted domain that exists at process start.
	// It holds key 0 and is never freed.
	RootDomain = 0

	// NoDomain is the sentinel returned by CreateDomain when the backend
	// declined to grant a protection key. It is a normal outcome, not an
	// error; callers must check for it explicitly.
	NoDomain = -1
)

// Entry is a registered pkucall entry point.
type Entry func()

// domain is one slot of the domain table.
//
// Invariant: !used implies key == 0 && perm == 0, so a freed and reused
// slot cannot leak rights across reuse.
type domain struct {
	key  uint8
	perm pkru.Perm
	used bool
}

// callSlot is one slot of the registered pkucall table. A nil entry marks
// the slot free; a non-nil entry implies the referenced domain existed at
// registration time.
type callSlot struct {
	did   int
	entry Entry
}

// rangeRecord is one slot of the memory range table: a page-aligned region
// granted to a domain, with enough metadata to revoke it at teardown.
type rangeRecord struct {
	addr     uintptr
	length   uintptr
	prot     int
	key      uint8
	did      int
	tag      string
	mapFlags int
	mapFD    int
	used     bool
}

// CleanupFunc is invoked once per still-used memory range record during
// FreeDomain, with the range's base address.
type CleanupFunc func(addr uintptr)

// Options configures a Context.
type Options struct {
	// OnRangeStillUsed is the cleanup callback run during FreeDomain for
	// every range record still marked used. May be nil.
	OnRangeStillUsed CleanupFunc

	// LazyFree defers the underlying domain free in FreeKey.
	LazyFree bool

	// SkipPageSizeCheck makes Init trust PageSize instead of asking the
	// host. Set it for guest runtimes where the host page size is not
	// observable from inside.
	SkipPageSizeCheck bool
}

// Context is the process-wide isolation state: the domain table, the
// registered pkucall table, the memory range table, and the identity of the
// currently active domain.
//
// All methods are safe for concurrent use; one mutex guards every table
// mutation and every read feeding a register write. The protection-control
// register itself is per-thread hardware state, so a Switch/Restore pair
// must execute on one OS thread; Invoke handles the thread pinning.
type Context struct {
	backend hostcall.Backend
	opts    Options

	mu          sync.Mutex
	initialized bool

	domains [NumDomains]domain
	calls   [NumCalls]callSlot
	ranges  [NumRanges]rangeRecord

	// rangesHigh is one past the highest range slot ever used, bounding
	// table sweeps.
	rangesHigh int

	// current is the active domain in the Idle state. While a switch is
	// in progress (inCall), savedDid/savedReg hold the state to restore.
	current  int
	inCall   bool
	savedDid int
	savedReg pkru.Value
}

var log = logrus.WithField("module", "pku")

// New creates a Context backed by backend. The root domain is pre-seeded:
// key 0, no restrictions, always present. Init must still be called before
// the registry operations are usable.
func New(backend hostcall.Backend, opts Options) *Context {
	if backend == nil {
		panic("pku.New: nil backend")
	}
	c := &Context{
		backend: backend,
		opts:    opts,
		current: RootDomain,
	}
	c.domains[RootDomain] = domain{key: 0, perm: 0, used: true}
	return c
}

// Current returns the active domain id. Callers record this before a
// manual Switch so they can Restore it afterwards.
func (c *Context) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// domainExistsLocked reports whether did names a live domain.
func (c *Context) domainExistsLocked(did int) bool {
	return did >= 0 && did < NumDomains && c.domains[did].used
}
