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

	"pkugate.dev/pkugate/pkg/hostcall"
	"pkugate.dev/pkugate/pkg/pku"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct{}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "report whether the host grants protection keys"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe

Asks the kernel for a protection key and reports the outcome. Exits non-zero
if the host cannot grant one.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Probe) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Probe) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)

	c := pku.New(hostcall.NewNative(), pku.Options{LazyFree: conf.LazyFree})
	if err := c.Init(0); err != nil {
		logrus.WithError(err).Error("initializing isolation context")
		return subcommands.ExitFailure
	}
	defer c.Deinit()

	did, err := c.CreateDomain(0)
	if err != nil {
		logrus.WithError(err).Error("creating probe domain")
		return subcommands.ExitFailure
	}
	if did == pku.NoDomain {
		fmt.Println("protection keys: exhausted or unsupported (no key granted)")
		return subcommands.ExitFailure
	}
	fmt.Printf("protection keys: supported (granted key %d)\n", did)
	if err := c.FreeKey(did); err != nil {
		logrus.WithError(err).Warn("releasing probe key")
	}
	return subcommands.ExitSuccess
}
