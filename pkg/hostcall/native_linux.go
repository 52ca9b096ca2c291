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

//go:build linux

package hostcall

import (
	"golang.org/x/sys/unix"

	"pkugate.dev/pkugate/pkg/pkuerr"
	"pkugate.dev/pkugate/pkg/pkru"
)

// Native performs protection operations through direct system calls and the
// RDPKRU/WRPKRU instructions. The register instructions are per-thread; a
// caller switching domains must stay on one OS thread for the duration.
type Native struct{}

var _ Backend = (*Native)(nil)

// NewNative returns the direct-syscall backend.
func NewNative() *Native {
	return &Native{}
}

// CreateDomain implements Backend.CreateDomain via pkey_alloc(2). Running
// out of keys is reported as NoKey, not an error.
func (*Native) CreateDomain(flags uint32) (int, error) {
	key, _, errno := unix.RawSyscall(unix.SYS_PKEY_ALLOC, uintptr(flags), 0, 0)
	if errno != 0 {
		if errno == unix.ENOSPC {
			return NoKey, nil
		}
		return NoKey, pkuerr.FromUnix(errno)
	}
	if !pkru.KeyValid(int(key)) {
		return NoKey, nil
	}
	return int(key), nil
}

// ProtectRange implements Backend.ProtectRange via pkey_mprotect(2).
func (*Native) ProtectRange(addr, length uintptr, prot, key int) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PKEY_MPROTECT, addr, length, uintptr(prot), uintptr(key), 0, 0)
	if errno != 0 {
		return pkuerr.FromUnix(errno)
	}
	return nil
}

// MapMemory implements Backend.MapMemory via mmap(2).
func (*Native) MapMemory(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.RawSyscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, pkuerr.FromUnix(errno)
	}
	return ret, nil
}

// UnmapMemory implements Backend.UnmapMemory via munmap(2).
func (*Native) UnmapMemory(addr, length uintptr) error {
	_, _, errno := unix.RawSyscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return pkuerr.FromUnix(errno)
	}
	return nil
}

// ReadRegister implements Backend.ReadRegister.
//
// A raw zero reading is indistinguishable from an unavailable instruction
// on hardware without pkeys, so zero is replaced by the conservative image
// rather than trusted as "everything open".
func (*Native) ReadRegister() (pkru.Value, error) {
	if !registerSupported {
		return pkru.Conservative, nil
	}
	v := pkru.Value(rdpkru())
	if v == 0 {
		v = pkru.Conservative
	}
	return v, nil
}

// WriteRegister implements Backend.WriteRegister.
func (*Native) WriteRegister(v pkru.Value) error {
	if !registerSupported {
		return pkuerr.ErrOperationFailure
	}
	wrpkru(uint32(v))
	return nil
}
