// Package server implements the MCP (Model Context Protocol) server for the
// image pipeline.
//
// The server exposes pipeline operations as MCP tools over JSON-RPC 2.0. Each
// tool call builds a fresh pipeline graph on a shared engine, evaluates only
// the regions its result needs, and closes the graph before responding. The
// engine's operation cache and memory accountant outlive the requests, so
// repeated calls on the same file reuse cached regions.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Basic Image Information:
//   - image_info: Header fields without decoding pixels
//   - image_statistics: Per-band min, max, mean and standard deviation
//
// Region Operations:
//   - image_thumbnail: Fit or fill a box, shrinking on load when possible
//   - image_extract_region: Extract a rectangle, optionally scaled
//   - image_crop_quadrant: Extract a named region (top-left, center, etc.)
//   - image_smart_crop: Crop at the most interesting position
//   - image_tiles: Describe the tile grid and return one tile
//
// Processing:
//   - image_transform: Apply a list of operations
//   - image_composite: Blend two images with one of 25 modes
//   - image_draw: Draw shapes onto an image or a blank canvas
//
// Color Operations:
//   - image_sample_color: Get color at pixel
//   - image_sample_colors_multi: Sample multiple points
//   - image_detect_background: Median color of the edge strips
//   - image_find_trim: Bounding box of non-background content
//
// Edges:
//   - image_edge_detect: Canny or Sobel edges
//
// Engine:
//   - engine_stats, cache_clear, cache_set_limits, reset_high_water
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	engine, err := pipeline.NewEngine(pipeline.DefaultConfig(), codec.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//	srv := server.New(engine, server.Info{Version: version})
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
