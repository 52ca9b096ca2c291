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
	"errors"
	"fmt"
	"math/bits"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkugate.dev/pkugate/pkg/pkuerr"
	"pkugate.dev/pkugate/pkg/pkru"
)

// echoHook replies by echoing the request, after recording it.
func echoHook(record *[]byte) Hook {
	return func(buf []byte) error {
		*record = append([]byte(nil), buf...)
		return nil
	}
}

func TestGuestProtectWire(t *testing.T) {
	var sent []byte
	g := NewGuest(echoHook(&sent))
	if err := g.ProtectRange(0x1000, 0x2000, 3, 5); err != nil {
		t.Fatalf("ProtectRange: %v", err)
	}
	want := []byte{0x01, 0x20, 0, 0, 0x10, 0, 0, 0, 0x20, 0, 3, 5}
	if diff := cmp.Diff(want, sent); diff != "" {
		t.Errorf("request bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestGuestProtectOperationFailure(t *testing.T) {
	g := NewGuest(func(buf []byte) error {
		// Zeroed echoed length signals the host refused the request.
		binary.BigEndian.PutUint32(buf[6:10], 0)
		return nil
	})
	err := g.ProtectRange(0x1000, 0x2000, 3, 5)
	if !errors.Is(err, pkuerr.ErrOperationFailure) {
		t.Errorf("ProtectRange: got %v, wanted ErrOperationFailure", err)
	}
}

func TestGuestTransportFailure(t *testing.T) {
	g := NewGuest(func(buf []byte) error {
		return fmt.Errorf("hook unreachable")
	})
	err := g.ProtectRange(0x1000, 0x1000, 3, 1)
	if !errors.Is(err, pkuerr.ErrTransportFailure) {
		t.Errorf("ProtectRange: got %v, wanted ErrTransportFailure", err)
	}
	if _, err := g.CreateDomain(0); !errors.Is(err, pkuerr.ErrTransportFailure) {
		t.Errorf("CreateDomain: got %v, wanted ErrTransportFailure", err)
	}
}

func TestGuestCreateDomain(t *testing.T) {
	for _, tc := range []struct {
		name    string
		reply   byte
		wantKey int
	}{
		{"granted", 7, 7},
		{"exhausted", 16, NoKey},
		{"garbage", 0xff, NoKey},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGuest(func(buf []byte) error {
				if op := binary.BigEndian.Uint16(buf[0:2]); op != opCreateDomain {
					t.Errorf("opcode: got %#x, wanted %#x", op, opCreateDomain)
				}
				buf[2] = tc.reply
				return nil
			})
			key, err := g.CreateDomain(0)
			if err != nil {
				t.Fatalf("CreateDomain: %v", err)
			}
			if key != tc.wantKey {
				t.Errorf("CreateDomain: got key %d, wanted %d", key, tc.wantKey)
			}
		})
	}
}

func TestGuestMapWire(t *testing.T) {
	var sent []byte
	g := NewGuest(func(buf []byte) error {
		sent = append([]byte(nil), buf...)
		// Grant a different address, echo the length.
		binary.BigEndian.PutUint32(buf[2:6], 0x30000)
		return nil
	})
	addr, err := g.MapMemory(0, 0x4000, 3, 0x22, -1, 0)
	if err != nil {
		t.Fatalf("MapMemory: %v", err)
	}
	if got, want := addr, uintptr(0x30000); got != want {
		t.Errorf("MapMemory: got addr %#x, wanted %#x", got, want)
	}
	want := []byte{0x01, 0x2B, 0, 0, 0, 0, 0, 0, 0x40, 0, 3, 0x22}
	if diff := cmp.Diff(want, sent); diff != "" {
		t.Errorf("request bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestGuestMapRejectsFileMappings(t *testing.T) {
	g := NewGuest(func(buf []byte) error { return nil })
	if _, err := g.MapMemory(0, 0x1000, 3, 0x22, 4, 0); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("MapMemory(fd=4): got %v, wanted ErrInvalidArgument", err)
	}
	if _, err := g.MapMemory(0, 0x1000, 3, 0x22, -1, 8192); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("MapMemory(offset=8192): got %v, wanted ErrInvalidArgument", err)
	}
}

func TestGuestMapOperationFailure(t *testing.T) {
	g := NewGuest(func(buf []byte) error {
		binary.BigEndian.PutUint32(buf[2:6], 0)
		return nil
	})
	if _, err := g.MapMemory(0, 0x1000, 3, 0x22, -1, 0); !errors.Is(err, pkuerr.ErrOperationFailure) {
		t.Errorf("MapMemory: got %v, wanted ErrOperationFailure", err)
	}
}

func TestGuestRegisterRoundTrip(t *testing.T) {
	// The hook keeps a register image; writes commit to it, reads return
	// it.
	reg := uint32(0)
	hook := func(buf []byte) error {
		switch binary.BigEndian.Uint16(buf[0:2]) {
		case opReadRegister:
			binary.BigEndian.PutUint32(buf[3:7], reg)
		case opWriteRegister:
			reg = binary.BigEndian.Uint32(buf[3:7])
		default:
			t.Fatalf("unexpected opcode %#x", binary.BigEndian.Uint16(buf[0:2]))
		}
		return nil
	}
	g := NewGuest(hook)

	// A zero register reads back as the conservative image.
	v, err := g.ReadRegister()
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got, want := v, pkru.Conservative; got != want {
		t.Errorf("ReadRegister: got %#x, wanted conservative %#x", got, want)
	}

	next := pkru.Set(pkru.Conservative, 3, pkru.DisableWrite)
	if err := g.WriteRegister(next); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	v, err = g.ReadRegister()
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got, want := v, next; got != want {
		t.Errorf("ReadRegister after write: got %#x, wanted %#x", got, want)
	}
}

func TestGuestWriteRegisterEchoMismatch(t *testing.T) {
	g := NewGuest(func(buf []byte) error {
		binary.BigEndian.PutUint32(buf[3:7], 0xdeadbeef)
		return nil
	})
	err := g.WriteRegister(pkru.Conservative)
	if !errors.Is(err, pkuerr.ErrOperationFailure) {
		t.Errorf("WriteRegister: got %v, wanted ErrOperationFailure", err)
	}
}

func TestGuestRejectsWideFields(t *testing.T) {
	if bits.UintSize == 32 {
		t.Skip("addresses and lengths always fit the wire on 32-bit hosts")
	}
	shift := uint(32)
	big := uintptr(1) << shift

	// A hook reply would echo the truncated fields consistently, so the
	// rejection has to happen before anything is transmitted.
	called := false
	g := NewGuest(func(buf []byte) error {
		called = true
		return nil
	})

	if err := g.ProtectRange(big, 0x1000, 3, 1); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("ProtectRange(addr=1<<32): got %v, wanted ErrInvalidArgument", err)
	}
	if err := g.ProtectRange(0x1000, big, 3, 1); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("ProtectRange(len=1<<32): got %v, wanted ErrInvalidArgument", err)
	}
	if _, err := g.MapMemory(0, big, 3, 0x22, -1, 0); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("MapMemory(len=1<<32): got %v, wanted ErrInvalidArgument", err)
	}
	if err := g.UnmapMemory(big, 0x1000); !errors.Is(err, pkuerr.ErrInvalidArgument) {
		t.Errorf("UnmapMemory(addr=1<<32): got %v, wanted ErrInvalidArgument", err)
	}
	if called {
		t.Error("an oversized request reached the hook")
	}
}

func TestGuestUnmapWire(t *testing.T) {
	var sent []byte
	g := NewGuest(echoHook(&sent))
	if err := g.UnmapMemory(0x5000, 0x1000); err != nil {
		t.Fatalf("UnmapMemory: %v", err)
	}
	want := []byte{0x01, 0x2C, 0, 0, 0x50, 0, 0, 0, 0x10, 0, 0, 0}
	if diff := cmp.Diff(want, sent); diff != "" {
		t.Errorf("request bytes mismatch (-want +got):\n%s", diff)
	}
}
