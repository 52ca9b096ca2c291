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
	"runtime"

	"pkugate.dev/pkugate/pkg/pkuerr"
	"pkugate.dev/pkugate/pkg/pkru"
)

// RegisterCall registers entry as a pkucall into did. The returned id is
// always the lowest free slot index, so registration sequences are
// reproducible. Slots are never unregistered before process teardown.
func (c *Context) RegisterCall(did int, entry Entry) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.domainExistsLocked(did) {
		return -1, pkuerr.ErrInvalidDomain
	}
	if entry == nil {
		return -1, pkuerr.ErrInvalidArgument
	}
	id := 0
	for ; id < NumCalls; id++ {
		if c.calls[id].entry == nil {
			break
		}
	}
	if id >= NumCalls {
		return -1, pkuerr.ErrResourceExhausted
	}
	if c.calls[id].entry != nil {
		// Unreachable given the scan above; kept so an overwrite can
		// never happen silently if the scan changes.
		return -1, pkuerr.ErrAlreadyRegistered
	}
	c.calls[id] = callSlot{did: did, entry: entry}
	log.Debugf("registered pkucall %d for domain %d", id, did)
	return id, nil
}

// Switch activates the domain that pkucall id was registered for: the
// callee's key and permission bits are loaded into the protection-control
// register. This is the only legitimate way the active protection may
// change.
//
// Switch is atomic with respect to protection state: every validation and
// the register read happen before the single register write, so a failed
// Switch leaves both the register and the context's idea of the active
// domain exactly as they were. The pre-switch register image and domain are
// saved for Restore.
func (c *Context) Switch(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inCall {
		return pkuerr.ErrPermissionDenied
	}
	if id < 0 || id >= NumCalls || c.calls[id].entry == nil {
		return pkuerr.ErrInvalidArgument
	}
	did := c.calls[id].did
	if !c.domainExistsLocked(did) {
		// The domain was freed after registration.
		return pkuerr.ErrInvalidDomain
	}
	d := &c.domains[did]
	old, err := c.backend.ReadRegister()
	if err != nil {
		return err
	}
	if err := c.backend.WriteRegister(pkru.Set(old, d.key, d.perm)); err != nil {
		return err
	}
	c.savedReg = old
	c.savedDid = c.current
	c.current = did
	c.inCall = true
	return nil
}

// Restore ends a cross-domain call: the register image saved by Switch is
// written back and prevDid becomes the active domain again. Under the
// conservative register default the saved image has the exited domain's
// key disabled, so writing it back both restores the caller's prior state
// and closes the callee's memory behind it.
//
// prevDid must be the domain that was active when Switch ran; passing
// anything else is a bracketing bug and fails without touching state.
func (c *Context) Restore(prevDid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCall {
		return pkuerr.ErrPermissionDenied
	}
	if prevDid != c.savedDid {
		return pkuerr.ErrInvalidArgument
	}
	if !c.domainExistsLocked(prevDid) {
		return pkuerr.ErrInvalidDomain
	}
	if err := c.backend.WriteRegister(c.savedReg); err != nil {
		return err
	}
	c.current = prevDid
	c.inCall = false
	return nil
}

// Invoke runs the registered entry of pkucall id bracketed by a
// Switch/Restore pair. Restore runs on every exit path, including a panic
// in the entry, so the process can never keep running with the callee
// domain still active. The goroutine is pinned to its OS thread for the
// duration: the protection-control register is per-thread state.
func (c *Context) Invoke(id int) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	prev := c.Current()
	if err := c.Switch(id); err != nil {
		return err
	}
	defer func() {
		if rerr := c.Restore(prev); rerr != nil && err == nil {
			err = rerr
		}
	}()

	c.mu.Lock()
	entry := c.calls[id].entry
	c.mu.Unlock()
	entry()
	return nil
}
