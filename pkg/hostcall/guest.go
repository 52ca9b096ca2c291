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

package hostcall

import (
	"encoding/binary"
	"fmt"
	"math"

	"pkugate.dev/pkugate/pkg/pkru"
)

// Hook is the single host entry point available inside a restricted guest
// runtime. It receives a fixed-size request buffer and mutates it in place
// with the result. A non-nil return is a transport failure, distinct from an
// operation failure encoded in the reply bytes. The hook validates every
// field itself; the guest backend only serializes.
type Hook func(buf []byte) error

// Request buffer geometry. Every operation uses the same 12-byte buffer: a
// 2-byte big-endian opcode followed by fields packed big-endian at fixed
// offsets.
const (
	// BufSize is the host-call request/reply buffer size.
	BufSize = 12

	opProtect      = 0x0120
	opCreateDomain = 0x0121
	opMap          = 0x012B
	opUnmap        = 0x012C

	// The register opcodes are the RDPKRU/WRPKRU instruction encodings
	// (0F 01 EE / 0F 01 EF) folded into two bytes.
	opReadRegister  = 0x0FEE
	opWriteRegister = 0x0FEF
)

// Guest carries protection operations over the single host-call hook.
//
// The hook is the entire trusted-host attack surface: it is authoritative
// for every request and the guest side must treat its replies as ground
// truth, including the conservative register fallback.
type Guest struct {
	hook Hook
}

var _ Backend = (*Guest)(nil)

// NewGuest returns a backend that issues every operation through hook.
func NewGuest(hook Hook) *Guest {
	return &Guest{hook: hook}
}

func (g *Guest) call(buf *[BufSize]byte) error {
	if err := g.hook(buf[:]); err != nil {
		return fmt.Errorf("%w: %v", errTransport, err)
	}
	return nil
}

// wireable reports whether v fits the wire's 32-bit fields. Values that do
// not fit must be rejected before serializing: a truncated length would echo
// back consistently and defeat the operation-failure check.
func wireable(v uintptr) bool {
	return v <= math.MaxUint32
}

// request assembles an opcode plus the common addr/len fields.
func request(op uint16, addr, length uintptr) [BufSize]byte {
	var buf [BufSize]byte
	binary.BigEndian.PutUint16(buf[0:2], op)
	binary.BigEndian.PutUint32(buf[2:6], uint32(addr))
	binary.BigEndian.PutUint32(buf[6:10], uint32(length))
	return buf
}

// CreateDomain implements Backend.CreateDomain. The reply carries the
// granted key at byte 2; an index outside the register's key slots means no
// key was granted.
func (g *Guest) CreateDomain(flags uint32) (int, error) {
	var buf [BufSize]byte
	binary.BigEndian.PutUint16(buf[0:2], opCreateDomain)
	if err := g.call(&buf); err != nil {
		return NoKey, err
	}
	key := int(buf[2])
	if !pkru.KeyValid(key) {
		return NoKey, nil
	}
	return key, nil
}

// ProtectRange implements Backend.ProtectRange. The hook echoes the request
// fields back on success; a zeroed length field is the operation-level
// failure signal.
func (g *Guest) ProtectRange(addr, length uintptr, prot, key int) error {
	if !wireable(addr) || !wireable(length) {
		return errInvalidArgument
	}
	buf := request(opProtect, addr, length)
	buf[10] = byte(prot)
	buf[11] = byte(key)
	if err := g.call(&buf); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(buf[6:10]) != uint32(length) {
		return errOperation
	}
	return nil
}

// MapMemory implements Backend.MapMemory. The wire format transports no
// file descriptor or offset; guest mappings are anonymous.
func (g *Guest) MapMemory(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	if fd >= 0 || offset != 0 {
		return 0, errInvalidArgument
	}
	if !wireable(addr) || !wireable(length) {
		return 0, errInvalidArgument
	}
	buf := request(opMap, addr, length)
	buf[10] = byte(prot)
	buf[11] = byte(flags)
	if err := g.call(&buf); err != nil {
		return 0, err
	}
	granted := uintptr(binary.BigEndian.Uint32(buf[2:6]))
	if granted == 0 || binary.BigEndian.Uint32(buf[6:10]) != uint32(length) {
		return 0, errOperation
	}
	return granted, nil
}

// UnmapMemory implements Backend.UnmapMemory.
func (g *Guest) UnmapMemory(addr, length uintptr) error {
	if !wireable(addr) || !wireable(length) {
		return errInvalidArgument
	}
	buf := request(opUnmap, addr, length)
	if err := g.call(&buf); err != nil {
		return err
	}
	if binary.BigEndian.Uint32(buf[6:10]) != uint32(length) {
		return errOperation
	}
	return nil
}

// ReadRegister implements Backend.ReadRegister. A zero reply is replaced by
// the conservative image, same as the native strategy: the hook reporting
// "nothing disabled" is not trusted over failing closed.
func (g *Guest) ReadRegister() (pkru.Value, error) {
	var buf [BufSize]byte
	binary.BigEndian.PutUint16(buf[0:2], opReadRegister)
	if err := g.call(&buf); err != nil {
		return pkru.Conservative, err
	}
	v := pkru.Value(binary.BigEndian.Uint32(buf[3:7]))
	if v == 0 {
		v = pkru.Conservative
	}
	return v, nil
}

// WriteRegister implements Backend.WriteRegister. The hook echoes the value
// it committed; a mismatch means the write was not applied as requested.
func (g *Guest) WriteRegister(v pkru.Value) error {
	var buf [BufSize]byte
	binary.BigEndian.PutUint16(buf[0:2], opWriteRegister)
	binary.BigEndian.PutUint32(buf[3:7], uint32(v))
	if err := g.call(&buf); err != nil {
		return err
	}
	if pkru.Value(binary.BigEndian.Uint32(buf[3:7])) != v {
		return errOperation
	}
	return nil
}
