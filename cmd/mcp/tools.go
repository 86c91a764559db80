package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AnishMulay/sandreplay/internal/chunk_store"
)

func addTools(s *server.MCPServer, store chunk_store.ChunkStore) {
	statusTool := mcp.NewTool("store_status",
		mcp.WithDescription("Report the active backend and the time span of retained chunks"),
	)
	s.AddTool(statusTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleStoreStatus(store), nil
	})

	lookupTool := mcp.NewTool("lookup_chunk",
		mcp.WithDescription("Find the latest chunk that started at or before a store-relative time"),
		mcp.WithNumber("target",
			mcp.Required(),
			mcp.Description("Seconds since the first chunk was stored"),
		),
	)
	s.AddTool(lookupTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := request.RequireFloat("target")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return handleLookup(ctx, store, target), nil
	})
}

func handleStoreStatus(store chunk_store.ChunkStore) *mcp.CallToolResult {
	st := store.Stats()
	if st.Count == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Backend: %s\nRetention: %.0fs\nNo chunks stored", st.Backend, st.RetentionSeconds))
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Backend: %s\nRetention: %.0fs\nChunks: %d\nOldest: %.3fs\nNewest: %.3fs\nSpan: %.3fs",
		st.Backend, st.RetentionSeconds, st.Count, st.Oldest, st.Newest, st.Newest-st.Oldest,
	))
}

func handleLookup(ctx context.Context, store chunk_store.ChunkStore, target float64) *mcp.CallToolResult {
	payload, ok, err := store.GetChunkForTime(ctx, target)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Lookup failed (%s): %v", chunk_store.ErrorKind(err), err))
	}
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("No chunk at or before %.3fs", target))
	}
	return mcp.NewToolResultText(fmt.Sprintf("Chunk found for %.3fs: %d bytes", target, len(payload)))
}
