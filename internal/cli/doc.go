// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kaito-chat command line.
//
// Commands:
//
//	kaito-chat workspaces              List KAITO workspaces
//	kaito-chat chat [ns/]workspace     Interactive chat through a port-forward
//	kaito-chat ask [ns/]workspace Q    One question, streamed to stdout
//	kaito-chat models [ns/]workspace   List the models a workspace serves
//	kaito-chat history [subcommand]    Saved transcripts (list, show, export, delete)
//	kaito-chat config [subcommand]     Configuration (show, path, init)
//
// Every command that talks to a workspace goes through session.Manager,
// so the tunnel is always closed before the command returns.
package cli
