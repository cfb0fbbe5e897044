// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discovery lists the models served behind a tunnel.
//
// The tunnel can report ready before the inference server accepts
// connections, so Discover retries a bounded number of times with a fixed
// delay between attempts. A successful empty listing is returned as an empty
// slice, not an error.
package discovery
