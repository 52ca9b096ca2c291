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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"pkugate.dev/pkugate/pkg/hostcall"
	"pkugate.dev/pkugate/pkg/pku"
	"pkugate.dev/pkugate/pkg/pkru"
)

// Protect implements subcommands.Command for the "protect" command.
type Protect struct {
	pages int
}

// Name implements subcommands.Command.Name.
func (*Protect) Name() string {
	return "protect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Protect) Synopsis() string {
	return "map a scratch region, tag it with a fresh key, and tear it down"
}

// Usage implements subcommands.Command.Usage.
func (*Protect) Usage() string {
	return `protect [-pages N]

Maps an anonymous region, creates a domain, tags the region with the
domain's key under write-disabled rights, and unmaps it again. Exercises the
real pkey_mprotect path end to end.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Protect) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.pages, "pages", 1, "number of pages to map and protect")
}

// Execute implements subcommands.Command.Execute.
func (p *Protect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)
	if p.pages <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	c := pku.New(hostcall.NewNative(), pku.Options{
		LazyFree: conf.LazyFree,
		OnRangeStillUsed: func(addr uintptr) {
			logrus.Warnf("range at %#x still tracked at teardown", addr)
		},
	})
	if err := c.Init(0); err != nil {
		logrus.WithError(err).Error("initializing isolation context")
		return subcommands.ExitFailure
	}
	defer c.Deinit()

	did, err := c.CreateDomain(0)
	if err != nil {
		logrus.WithError(err).Error("creating domain")
		return subcommands.ExitFailure
	}
	if did == pku.NoDomain {
		logrus.Error("no protection key granted")
		return subcommands.ExitFailure
	}

	length := uintptr(p.pages) * pku.PageSize
	addr, err := c.MapMemory(did, 0, length, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, -1, 0, "pkuctl scratch")
	if err != nil {
		logrus.WithError(err).Error("mapping scratch region")
		return subcommands.ExitFailure
	}
	fmt.Printf("mapped %d page(s) at %#x for domain %d\n", p.pages, addr, did)

	if err := c.ProtectMemory(did, addr, length, unix.PROT_READ, "pkuctl scratch"); err != nil {
		logrus.WithError(err).Error("protecting scratch region")
		return subcommands.ExitFailure
	}
	if err := c.AssignKey(did, did, 0, pkru.DisableWrite); err != nil {
		logrus.WithError(err).Error("assigning rights")
		return subcommands.ExitFailure
	}
	fmt.Printf("tagged %#x with key %d, writes disabled\n", addr, did)

	if err := c.UnmapMemory(addr, length); err != nil {
		logrus.WithError(err).Error("unmapping scratch region")
		return subcommands.ExitFailure
	}
	fmt.Println("released")
	return subcommands.ExitSuccess
}
