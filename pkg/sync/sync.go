// Copyright 2026 The pkugate Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

// Package sync provides synchronization primitives. It currently aliases
// the standard library; keeping the indirection lets instrumented or
// checked variants be dropped in without touching callers.
package sync

import (
	"sync"
)

// Mutex is an alias of sync.Mutex.
type Mutex = sync.Mutex
