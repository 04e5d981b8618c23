// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets implements train.Dataset for in-memory data and synthetic images, and a
// wrapper to prefetch batches in parallel.
package datasets
