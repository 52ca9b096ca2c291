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

package pku

import (
	"golang.org/x/sys/unix"

	"pkugate.dev/pkugate/pkg/hostcall"
	"pkugate.dev/pkugate/pkg/pkuerr"
	"pkugate.dev/pkugate/pkg/pkru"
)

// Init makes the registry operational. It fails if the context is already
// initialized or if the host's page size does not match PageSize; the range
// bookkeeping is meaningless under any other page geometry.
func (c *Context) Init(flags uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return pkuerr.ErrAlreadyInitialized
	}
	if !c.opts.SkipPageSizeCheck {
		if size := unix.Getpagesize(); size != PageSize {
			log.Warnf("host page size %d, need %d", size, PageSize)
			return pkuerr.ErrOperationFailure
		}
	}
	c.initialized = true
	return nil
}

// Deinit tears the context down. It always succeeds; freeing subordinate
// domains first is the caller's responsibility.
func (c *Context) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	return nil
}

// CreateDomain allocates a protection key from the backend and, if one was
// granted, marks the key's table slot as a live domain with zero
// permissions. It returns the slot index as the domain id, or NoDomain if
// the backend declined to grant a key (key exhaustion is a policy outcome,
// not an error).
func (c *Context) CreateDomain(flags uint32) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return NoDomain, pkuerr.ErrNotInitialized
	}
	key, err := c.backend.CreateDomain(flags)
	if err != nil {
		return NoDomain, err
	}
	if key == hostcall.NoKey {
		return NoDomain, nil
	}
	if c.domains[key].used {
		// The backend re-granted a key that still backs a live domain.
		// Overwriting the slot would silently reset its permissions.
		log.Warnf("backend granted key %d, already owned by a live domain", key)
		return NoDomain, pkuerr.ErrOperationFailure
	}
	c.domains[key] = domain{key: uint8(key), perm: 0, used: true}
	log.Debugf("created domain %d", key)
	return key, nil
}

// AssignKey stores accessRights as did's permission bits and immediately
// commits them to the protection state for did's key. Extraneous bits in
// accessRights fail with ErrInvalidArgument before anything is mutated.
//
// The key and flags arguments are accepted for interface compatibility;
// the committed key is always the one the domain owns.
func (c *Context) AssignKey(did, key int, flags uint32, accessRights pkru.Perm) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.domainExistsLocked(did) {
		return pkuerr.ErrInvalidDomain
	}
	if !accessRights.Valid() {
		return pkuerr.ErrInvalidArgument
	}
	d := &c.domains[did]
	if err := c.commitLocked(d.key, accessRights); err != nil {
		return err
	}
	d.perm = accessRights
	return nil
}

// commitLocked applies perm for key to the protection-control register via
// a read-modify-write. A failed read or write leaves the stored domain
// state untouched; the register is written exactly once.
func (c *Context) commitLocked(key uint8, perm pkru.Perm) error {
	old, err := c.backend.ReadRegister()
	if err != nil {
		return err
	}
	return c.backend.WriteRegister(pkru.Set(old, key, perm))
}

// FreeDomain destroys did. Before the slot is cleared, the cleanup
// callback runs once for every still-used memory range record, whole table
// in slot order regardless of owning domain, and each swept record is
// marked unused. The broad sweep is deliberate: without per-key reference
// counting, revoking everything is the fail-closed choice.
//
// The root domain cannot be freed.
func (c *Context) FreeDomain(did int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return pkuerr.ErrNotInitialized
	}
	if !c.domainExistsLocked(did) {
		return pkuerr.ErrInvalidDomain
	}
	if did == RootDomain {
		return pkuerr.ErrPermissionDenied
	}
	c.freeDomainLocked(did)
	return nil
}

func (c *Context) freeDomainLocked(did int) {
	c.sweepRangesLocked()
	c.domains[did] = domain{}
	log.Debugf("freed domain %d", did)
}

// AllocKey validates accessRights and delegates to CreateDomain: in this
// design a key is allocated with its domain and the domain id doubles as
// the key index.
func (c *Context) AllocKey(flags uint32, accessRights pkru.Perm) (int, error) {
	if !accessRights.Valid() {
		return NoDomain, pkuerr.ErrInvalidArgument
	}
	return c.CreateDomain(flags)
}

// FreeKey releases pkey. It fails with ErrPermissionDenied while any
// memory range record anywhere in the table is still used; the key cannot
// be known to be unreferenced otherwise. On success every non-root domain
// is revoked (a global revoke, not a single-key one: there is no per-key
// reference counting to justify anything narrower). Unless LazyFree is
// configured, the domain owning pkey is freed first, which runs the
// cleanup sweep.
func (c *Context) FreeKey(pkey int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return pkuerr.ErrNotInitialized
	}
	if !pkru.KeyValid(pkey) {
		return pkuerr.ErrInvalidArgument
	}
	for rid := 0; rid < c.rangesHigh; rid++ {
		if r := &c.ranges[rid]; r.used {
			log.Warnf("range[%d] addr %#x len %d (%s) still in use", rid, r.addr, r.length, r.tag)
			return pkuerr.ErrPermissionDenied
		}
	}
	if !c.opts.LazyFree && pkey != RootDomain && c.domainExistsLocked(pkey) {
		c.freeDomainLocked(pkey)
	}
	for did := RootDomain + 1; did < NumDomains; did++ {
		if c.domains[did].used {
			c.domains[did] = domain{}
			log.Debugf("revoked domain %d", did)
		}
	}
	return nil
}

// DomainRights returns did's stored permission bits.
func (c *Context) DomainRights(did int) (pkru.Perm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.domainExistsLocked(did) {
		return 0, pkuerr.ErrInvalidDomain
	}
	return c.domains[did].perm, nil
}

// RangesInUse returns the number of still-used memory range records.
func (c *Context) RangesInUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for rid := 0; rid < c.rangesHigh; rid++ {
		if c.ranges[rid].used {
			n++
		}
	}
	return n
}

// AllowCaller is a declared placeholder: per-caller allow-lists are not
// enforced, and permission to invoke a pkucall is implied by possession of
// a valid call id. It still validates that callerDid exists so misuse is
// caught early.
func (c *Context) AllowCaller(callerDid int, flags uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.domainExistsLocked(callerDid) {
		return pkuerr.ErrInvalidDomain
	}
	return nil
}
