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

	"pkugate.dev/pkugate/pkg/hostcall/fake"
	"pkugate.dev/pkugate/pkg/pku"
	"pkugate.dev/pkugate/pkg/pkru"
)

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct{}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "run the isolation state machine against an in-memory backend"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest

Runs the full domain lifecycle (create, assign rights, register a pkucall,
switch/restore, free) against an in-memory backend. No privileged operations
are issued; use this to validate the state machine on any host.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Selftest) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Selftest) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)

	b := fake.New()
	c := pku.New(b, pku.Options{
		LazyFree:          conf.LazyFree,
		SkipPageSizeCheck: true,
	})

	step := func(name string, err error) bool {
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", name, err)
			return false
		}
		fmt.Printf("ok   %s\n", name)
		return true
	}

	if !step("init", c.Init(0)) {
		return subcommands.ExitFailure
	}
	did, err := c.CreateDomain(0)
	if !step("create domain", err) || did == pku.NoDomain {
		return subcommands.ExitFailure
	}
	if !step("assign rights", c.AssignKey(did, did, 0, pkru.DisableWrite)) {
		return subcommands.ExitFailure
	}
	id, err := c.RegisterCall(did, func() {})
	if !step("register pkucall", err) {
		return subcommands.ExitFailure
	}

	before := b.Register
	if !step("invoke", c.Invoke(id)) {
		return subcommands.ExitFailure
	}
	if b.Register != before {
		fmt.Printf("FAIL restore: register %#x, want %#x\n", b.Register, before)
		return subcommands.ExitFailure
	}
	fmt.Println("ok   restore (register unchanged)")

	if !step("free key", c.FreeKey(did)) {
		return subcommands.ExitFailure
	}
	fmt.Println("selftest passed")
	return subcommands.ExitSuccess
}
