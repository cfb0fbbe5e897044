// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inference streams chat completions from the OpenAI-compatible
// server behind a tunnel.
//
// Send returns a Stream that yields numbered text chunks in arrival order.
// A stream is finite and cannot be restarted. Callers apply each chunk to the
// in-flight assistant message by sequence number, so a replayed chunk is
// rejected rather than appended twice.
//
// When a stream fails, Categorize sorts the error into timeout,
// connection-refused or other, and Fallback renders the synthetic assistant
// text shown in its place.
//
// Example:
//
//	client := inference.NewClient(nil)
//	stream, err := client.Send(ctx, conv.History(), "phi-4-mini-instruct", inference.DefaultParams(), tunnel)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package inference
