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
	"pkugate.dev/pkugate/pkg/pkuerr"
)

// pageAligned reports whether addr and length describe a whole-page region.
func pageAligned(addr, length uintptr) bool {
	return length > 0 && addr%PageSize == 0 && length%PageSize == 0
}

// findFreeRangeLocked returns the first unused slot index, or -1.
func (c *Context) findFreeRangeLocked() int {
	for rid := 0; rid < NumRanges; rid++ {
		if !c.ranges[rid].used {
			return rid
		}
	}
	return -1
}

// recordRangeLocked inserts r into slot rid, previously obtained from
// findFreeRangeLocked, and advances the sweep high-water mark.
func (c *Context) recordRangeLocked(rid int, r rangeRecord) {
	r.used = true
	c.ranges[rid] = r
	if rid+1 > c.rangesHigh {
		c.rangesHigh = rid + 1
	}
}

// releaseRangeLocked marks every record based at addr unused; a region can
// carry both a mapping record and protection records. It is not an error if
// no record matches; unmapping memory the tracker never saw is allowed.
func (c *Context) releaseRangeLocked(addr uintptr) {
	for rid := 0; rid < c.rangesHigh; rid++ {
		if c.ranges[rid].used && c.ranges[rid].addr == addr {
			c.ranges[rid] = rangeRecord{}
		}
	}
}

// sweepRangesLocked runs the cleanup callback for every still-used record,
// whole table in slot order, and marks each one unused. FreeDomain calls
// this regardless of which domain owns the records: without per-key
// reference counting the conservative whole-table revoke is the only sweep
// that cannot leave a stale grant behind.
func (c *Context) sweepRangesLocked() {
	for rid := 0; rid < c.rangesHigh; rid++ {
		r := &c.ranges[rid]
		if !r.used {
			continue
		}
		if cb := c.opts.OnRangeStillUsed; cb != nil {
			cb(r.addr)
		}
		*r = rangeRecord{}
	}
	c.rangesHigh = 0
}

// ProtectMemory tags the page-aligned region [addr, addr+length) with did's
// key under protection bits prot, and records the grant so FreeDomain can
// revoke it. tag is a human-readable label carried in the record.
func (c *Context) ProtectMemory(did int, addr, length uintptr, prot int, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return pkuerr.ErrNotInitialized
	}
	if !c.domainExistsLocked(did) {
		return pkuerr.ErrInvalidDomain
	}
	if !pageAligned(addr, length) {
		return pkuerr.ErrInvalidArgument
	}
	rid := c.findFreeRangeLocked()
	if rid < 0 {
		return pkuerr.ErrResourceExhausted
	}
	key := c.domains[did].key
	if err := c.backend.ProtectRange(addr, length, prot, int(key)); err != nil {
		return err
	}
	c.recordRangeLocked(rid, rangeRecord{
		addr:   addr,
		length: length,
		prot:   prot,
		key:    key,
		did:    did,
		tag:    tag,
		mapFD:  -1,
	})
	return nil
}

// MapMemory establishes a mapping on behalf of did and records it with its
// mapping metadata. It returns the granted address.
func (c *Context) MapMemory(did int, addr, length uintptr, prot, flags, fd int, offset int64, tag string) (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, pkuerr.ErrNotInitialized
	}
	if !c.domainExistsLocked(did) {
		return 0, pkuerr.ErrInvalidDomain
	}
	if !pageAligned(addr, length) && !(addr == 0 && length > 0 && length%PageSize == 0) {
		return 0, pkuerr.ErrInvalidArgument
	}
	rid := c.findFreeRangeLocked()
	if rid < 0 {
		return 0, pkuerr.ErrResourceExhausted
	}
	granted, err := c.backend.MapMemory(addr, length, prot, flags, fd, offset)
	if err != nil {
		return 0, err
	}
	c.recordRangeLocked(rid, rangeRecord{
		addr:     granted,
		length:   length,
		prot:     prot,
		key:      c.domains[did].key,
		did:      did,
		tag:      tag,
		mapFlags: flags,
		mapFD:    fd,
	})
	return granted, nil
}

// UnmapMemory removes a mapping and releases its range record.
func (c *Context) UnmapMemory(addr, length uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return pkuerr.ErrNotInitialized
	}
	if !pageAligned(addr, length) {
		return pkuerr.ErrInvalidArgument
	}
	if err := c.backend.UnmapMemory(addr, length); err != nil {
		return err
	}
	c.releaseRangeLocked(addr)
	return nil
}
