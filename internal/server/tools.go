package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the image file",
	}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func numProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values, "description": desc}
}

// outputProps are shared by every tool that returns an image.
func outputProps(props map[string]interface{}) map[string]interface{} {
	props["format"] = enumProp("Output format. Default png", "png", "jpeg", "gif", "tiff", "bmp")
	props["quality"] = intProp("JPEG quality 1-100. Default is the encoder default")
	props["output_path"] = stringProp("Optional file to write instead of returning base64 data")
	return props
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var kernelNames = []string{"nearest", "linear", "cubic", "lanczos2", "lanczos3"}

var interestingNames = []string{"none", "centre", "entropy", "attention", "low", "high"}

var extendNames = []string{"black", "copy", "repeat", "mirror", "white", "background"}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Basic Image Information
		{
			Name:        "image_info",
			Description: "Read the dimensions, band count and format of an image file without decoding its pixels.",
			InputSchema: objectSchema(map[string]interface{}{"path": pathProp()}, "path"),
		},
		{
			Name:        "image_statistics",
			Description: "Compute min, max, mean and standard deviation of every band of an image.",
			InputSchema: objectSchema(map[string]interface{}{"path": pathProp()}, "path"),
		},

		// Region Operations
		{
			Name:        "image_thumbnail",
			Description: "Make a thumbnail that fits within width x height, or fills it exactly when crop is set. Large files are shrunk while decoding when the codec supports it.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":   pathProp(),
				"width":  intProp("Target width in pixels"),
				"height": intProp("Target height in pixels"),
				"crop":   map[string]interface{}{"type": "boolean", "description": "Fill the box and centre-crop the overflow"},
				"kernel": enumProp("Resampling kernel. Default lanczos3", kernelNames...),
			}), "path", "width", "height"),
		},
		{
			Name:        "image_extract_region",
			Description: "Extract a rectangular region from an image and return it as base64-encoded image data. Use this to zoom into areas that need detailed examination.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":   pathProp(),
				"x":      intProp("Left edge X coordinate (0-based)"),
				"y":      intProp("Top edge Y coordinate (0-based)"),
				"width":  intProp("Region width"),
				"height": intProp("Region height"),
				"scale":  numProp("Optional scale factor (e.g., 2.0 to double size). Default 1.0"),
			}), "path", "x", "y", "width", "height"),
		},
		{
			Name:        "image_crop_quadrant",
			Description: "Crop a named region of the image (top-left, top-right, bottom-left, bottom-right, top-half, bottom-half, left-half, right-half, center).",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path": pathProp(),
				"region": enumProp("Named region to extract",
					"top-left", "top-right", "bottom-left", "bottom-right",
					"top-half", "bottom-half", "left-half", "right-half", "center"),
				"scale": numProp("Optional scale factor. Default 1.0"),
			}), "path", "region"),
		},
		{
			Name:        "image_smart_crop",
			Description: "Crop to width x height at the most interesting position.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":        pathProp(),
				"width":       intProp("Crop width"),
				"height":      intProp("Crop height"),
				"interesting": enumProp("Strategy for choosing the crop. Default attention", interestingNames...),
			}), "path", "width", "height"),
		},
		{
			Name:        "image_tiles",
			Description: "Describe the tile grid of an image, and optionally return one tile. Tiles are in row-major order.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":        pathProp(),
				"tile_width":  intProp("Tile width. Default 256"),
				"tile_height": intProp("Tile height. Default tile_width"),
				"index":       intProp("Optional tile to return as image data"),
			}), "path"),
		},

		// Processing
		{
			Name: "image_transform",
			Description: "Apply a sequence of operations to an image and return the result. Each step has an op and its parameters. " +
				"Ops: resize, fit, crop, smartcrop, embed, gravity, pad, flip, rot90, rotate, blur, sharpen, sobel, canny, " +
				"grayscale, invert, brightness, contrast, saturation, gamma, adjust, flatten, add_alpha, premultiply, unpremultiply, extract_band, equalize, trim.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path": pathProp(),
				"steps": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"op":          stringProp("Operation name"),
							"width":       map[string]interface{}{"type": "integer"},
							"height":      map[string]interface{}{"type": "integer"},
							"x":           map[string]interface{}{"type": "integer"},
							"y":           map[string]interface{}{"type": "integer"},
							"top":         map[string]interface{}{"type": "integer"},
							"right":       map[string]interface{}{"type": "integer"},
							"bottom":      map[string]interface{}{"type": "integer"},
							"left":        map[string]interface{}{"type": "integer"},
							"band":        map[string]interface{}{"type": "integer"},
							"scale":       map[string]interface{}{"type": "number"},
							"angle":       map[string]interface{}{"type": "number"},
							"sigma":       map[string]interface{}{"type": "number"},
							"radius":      map[string]interface{}{"type": "number"},
							"amount":      map[string]interface{}{"type": "number"},
							"value":       map[string]interface{}{"type": "number"},
							"brightness":  map[string]interface{}{"type": "number"},
							"contrast":    map[string]interface{}{"type": "number"},
							"saturation":  map[string]interface{}{"type": "number"},
							"low":         map[string]interface{}{"type": "number"},
							"high":        map[string]interface{}{"type": "number"},
							"threshold":   map[string]interface{}{"type": "number"},
							"kernel":      enumProp("", kernelNames...),
							"interesting": enumProp("", interestingNames...),
							"extend":      enumProp("", extendNames...),
							"gravity":     enumProp("", "centre", "n", "e", "s", "w", "ne", "se", "sw", "nw"),
							"direction":   enumProp("", "horizontal", "vertical"),
							"background":  stringProp("Hex colour such as #FFFFFF"),
						},
						"required": []string{"op"},
					},
					"description": "Operations applied in order",
				},
			}), "path", "steps"),
		},
		{
			Name:        "image_composite",
			Description: "Blend an overlay image onto a base image at (x, y) with one of 25 blend modes.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":         pathProp(),
				"overlay_path": stringProp("Absolute path to the overlay image"),
				"mode":         stringProp("Blend mode such as over, multiply, screen, difference. Default over"),
				"x":            intProp("Overlay left edge"),
				"y":            intProp("Overlay top edge"),
			}), "path", "overlay_path"),
		},
		{
			Name:        "image_draw",
			Description: "Draw rectangles, lines, circles and flood fills onto an image, or onto a blank canvas when no path is given.",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":       pathProp(),
				"width":      intProp("Blank canvas width when no path is given"),
				"height":     intProp("Blank canvas height when no path is given"),
				"background": stringProp("Blank canvas colour. Default #FFFFFF"),
				"shapes": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"type":   enumProp("Shape", "rect", "line", "circle", "fill"),
							"x1":     map[string]interface{}{"type": "integer"},
							"y1":     map[string]interface{}{"type": "integer"},
							"x2":     map[string]interface{}{"type": "integer"},
							"y2":     map[string]interface{}{"type": "integer"},
							"radius": map[string]interface{}{"type": "integer"},
							"fill":   map[string]interface{}{"type": "boolean"},
							"color":  stringProp("Hex colour, #RRGGBB or #RRGGBBAA"),
						},
						"required": []string{"type", "color"},
					},
				},
			}), "shapes"),
		},

		// Color Operations
		{
			Name:        "image_sample_color",
			Description: "Get the exact color value at a specific pixel coordinate.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": pathProp(),
				"x":    intProp("X coordinate (0-based, from left)"),
				"y":    intProp("Y coordinate (0-based, from top)"),
			}, "path", "x", "y"),
		},
		{
			Name:        "image_sample_colors_multi",
			Description: "Get color values at multiple pixel coordinates in a single call.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": pathProp(),
				"points": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"x":     map[string]interface{}{"type": "integer"},
							"y":     map[string]interface{}{"type": "integer"},
							"label": map[string]interface{}{"type": "string", "description": "Optional label for this point"},
						},
						"required": []string{"x", "y"},
					},
					"description": "Array of points to sample",
				},
			}, "path", "points"),
		},
		{
			Name:        "image_detect_background",
			Description: "Estimate the background colour from the median of the four edge strips.",
			InputSchema: objectSchema(map[string]interface{}{
				"path":        pathProp(),
				"strip_width": intProp("Edge strip width in pixels. Default 10"),
			}, "path"),
		},
		{
			Name:        "image_find_trim",
			Description: "Find the bounding box of the content that differs from the background.",
			InputSchema: objectSchema(map[string]interface{}{
				"path":       pathProp(),
				"threshold":  numProp("Per-band difference that counts as content. Default 10"),
				"background": stringProp("Background hex colour. Default is the top-left pixel"),
			}, "path"),
		},

		// Shape Detection
		{
			Name:        "image_edge_detect",
			Description: "Detect edges with Canny (thin binary edges) or Sobel (gradient magnitude).",
			InputSchema: objectSchema(outputProps(map[string]interface{}{
				"path":           pathProp(),
				"method":         enumProp("Edge detector. Default canny", "canny", "sobel"),
				"sigma":          numProp("Canny blur sigma. Default 1.4"),
				"threshold_low":  numProp("Canny low threshold. Default 50"),
				"threshold_high": numProp("Canny high threshold. Default 150"),
			}), "path"),
		},

		// Engine
		{
			Name:        "engine_stats",
			Description: "Report cache, memory and worker counters of the pipeline engine.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "cache_clear",
			Description: "Drop every cached region.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "cache_set_limits",
			Description: "Change the cache limits. Omitted limits keep their current value.",
			InputSchema: objectSchema(map[string]interface{}{
				"max_ops":   intProp("Most cached regions; 0 disables caching"),
				"max_bytes": intProp("Most cached bytes; 0 is unbounded"),
				"max_files": intProp("Most spill files; 0 disables spilling"),
			}),
		},
		{
			Name:        "reset_high_water",
			Description: "Reset the memory high-water mark to the current usage.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
