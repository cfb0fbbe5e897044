// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// kaito-chat - Terminal chat for models served by KAITO workspaces.
//
// Opens a port-forward to the workspace's inference pod, discovers the
// models it serves and streams chat completions through the tunnel.
package main

import (
	"os"

	"github.com/kaito-project/headlamp-kaito/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
