// Copyright (c) 2026 John Earle
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

package cache

import (
	"context"
	"errors"
)

// Func adapts a function to the NotifyStale interface.
type Func func(ctx context.Context, tag string) error

// NotifyStale calls f.
func (f Func) NotifyStale(ctx context.Context, tag string) error {
	return f(ctx, tag)
}

// Nop ignores invalidations. Used when no cache is configured.
type Nop struct{}

// NotifyStale does nothing.
func (Nop) NotifyStale(context.Context, string) error { return nil }

// Invalidator is implemented by every cache backend.
type Invalidator interface {
	NotifyStale(ctx context.Context, tag string) error
}

// Multi fans an invalidation out to several backends. All are tried; the
// errors are joined.
type Multi []Invalidator

// NotifyStale notifies every backend in m.
func (m Multi) NotifyStale(ctx context.Context, tag string) error {
	var errs []error
	for _, inv := range m {
		if err := inv.NotifyStale(ctx, tag); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
