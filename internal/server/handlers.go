package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
	"github.com/ironsheep/image-pipeline/internal/tiling"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "image_info", "image_thumbnail").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Builds a pipeline graph for the request
//  4. Evaluates the part of the graph the result needs
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	// Basic Image Information
	case "image_info":
		return s.handleImageInfo(args)
	case "image_statistics":
		return s.handleImageStatistics(args)

	// Region Operations
	case "image_thumbnail":
		return s.handleImageThumbnail(args)
	case "image_extract_region":
		return s.handleImageExtractRegion(args)
	case "image_crop_quadrant":
		return s.handleImageCropQuadrant(args)
	case "image_smart_crop":
		return s.handleImageSmartCrop(args)
	case "image_tiles":
		return s.handleImageTiles(args)

	// Processing
	case "image_transform":
		return s.handleImageTransform(args)
	case "image_composite":
		return s.handleImageComposite(args)
	case "image_draw":
		return s.handleImageDraw(args)

	// Color Operations
	case "image_sample_color":
		return s.handleImageSampleColor(args)
	case "image_sample_colors_multi":
		return s.handleImageSampleColorsMulti(args)
	case "image_detect_background":
		return s.handleImageDetectBackground(args)
	case "image_find_trim":
		return s.handleImageFindTrim(args)

	// Shape Detection
	case "image_edge_detect":
		return s.handleImageEdgeDetect(args)

	// Engine
	case "engine_stats":
		return s.engine.Stats(), nil
	case "cache_clear":
		s.engine.ClearCache()
		return s.engine.Stats(), nil
	case "cache_set_limits":
		return s.handleCacheSetLimits(args)
	case "reset_high_water":
		s.engine.ResetHighWater()
		return s.engine.Stats(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Shared Helpers ===

// request holds the graph built for one tool call. Closing it releases
// every source the call loaded.
type request struct {
	s  *Server
	g  *pipeline.Graph
	ev *pipeline.Evaluator
}

func (s *Server) newRequest() *request {
	g := pipeline.NewGraph()
	return &request{s: s, g: g, ev: s.engine.Evaluator(g)}
}

func (r *request) close() {
	r.g.Close()
}

func (r *request) load(path string) (pipeline.NodeID, error) {
	if path == "" {
		return -1, fmt.Errorf("path is required")
	}
	return r.s.engine.Load(r.g, pipeline.FileInput(path), pipeline.LoadOptions{})
}

type outputArgs struct {
	Format     string `json:"format"`
	Quality    int    `json:"quality"`
	OutputPath string `json:"output_path"`
}

func (o outputArgs) options() (pipeline.EncodeOptions, error) {
	opts := pipeline.EncodeOptions{Quality: o.Quality}
	if o.Format != "" {
		opts.Format = pipeline.ParseFormat(o.Format)
		if opts.Format == pipeline.FormatUnknown {
			return opts, fmt.Errorf("unknown output format: %s", o.Format)
		}
	}
	return opts, nil
}

// ImageResult contains an encoded image, or the file it was written to.
type ImageResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Bands       int    `json:"bands"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	OutputPath  string `json:"output_path,omitempty"`
}

var mimeTypes = map[pipeline.ImageFormat]string{
	pipeline.FormatJPEG: "image/jpeg",
	pipeline.FormatPNG:  "image/png",
	pipeline.FormatGIF:  "image/gif",
	pipeline.FormatTIFF: "image/tiff",
	pipeline.FormatBMP:  "image/bmp",
	pipeline.FormatWebP: "image/webp",
}

// output encodes node id as the tool result. Images are PNG unless the
// caller asks otherwise.
func (r *request) output(id pipeline.NodeID, out outputArgs) (*ImageResult, error) {
	d, err := r.g.Descriptor(id)
	if err != nil {
		return nil, err
	}
	opts, err := out.options()
	if err != nil {
		return nil, err
	}
	res := &ImageResult{Width: d.Width, Height: d.Height, Bands: d.Bands}

	if out.OutputPath != "" {
		if err := r.ev.Save(out.OutputPath, id, opts); err != nil {
			return nil, err
		}
		res.OutputPath = out.OutputPath
		return res, nil
	}

	if opts.Format == pipeline.FormatUnknown {
		opts.Format = pipeline.FormatPNG
	}
	var buf bytes.Buffer
	if err := r.ev.Encode(&buf, id, opts); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	res.ImageBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	res.MimeType = mimeTypes[opts.Format]
	return res, nil
}

func parseKernel(name string) (pipeline.Kernel, error) {
	if name == "" {
		return pipeline.KernelLanczos3, nil
	}
	return pipeline.ParseKernel(name)
}

func parseInteresting(name string) (pipeline.Interesting, error) {
	if name == "" {
		return pipeline.InterestingAttention, nil
	}
	return pipeline.ParseInteresting(name)
}

// === Basic Image Information Handlers ===

type imagePathArgs struct {
	Path string `json:"path"`
}

// InfoResult describes an image file.
type InfoResult struct {
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Bands          int    `json:"bands"`
	HasAlpha       bool   `json:"has_alpha"`
	Interpretation string `json:"interpretation"`
	Format         string `json:"format"`
	Loader         string `json:"loader"`
	FileSizeBytes  int64  `json:"file_size_bytes"`
	// Metadata holds the fields the file declares, such as orientation,
	// resolution and EXIF tags. Blobs are reported by size.
	Metadata *pipeline.Metadata `json:"metadata,omitempty"`
}

func (s *Server) handleImageInfo(args json.RawMessage) (interface{}, error) {
	var a imagePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	d, loader, err := s.engine.Header(pipeline.FileInput(a.Path))
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &InfoResult{
		Width:          d.Width,
		Height:         d.Height,
		Bands:          d.Bands,
		HasAlpha:       d.HasAlpha(),
		Interpretation: d.Interpretation.String(),
		Format:         d.SourceFormat.String(),
		Loader:         loader,
		FileSizeBytes:  stat.Size(),
		Metadata:       d.Meta,
	}, nil
}

func (s *Server) handleImageStatistics(args json.RawMessage) (interface{}, error) {
	var a imagePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	return r.ev.Statistics(id)
}

// === Region Operation Handlers ===

type imageThumbnailArgs struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Crop   bool   `json:"crop"`
	Kernel string `json:"kernel"`
	outputArgs
}

func (s *Server) handleImageThumbnail(args json.RawMessage) (interface{}, error) {
	var a imageThumbnailArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	kernel, err := parseKernel(a.Kernel)
	if err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := s.engine.Thumbnail(r.g, pipeline.FileInput(a.Path), a.Width, a.Height, pipeline.ThumbnailOptions{
		Kernel: kernel,
		Crop:   a.Crop,
	})
	if err != nil {
		return nil, err
	}
	return r.output(id, a.outputArgs)
}

type imageExtractRegionArgs struct {
	Path   string  `json:"path"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
	outputArgs
}

func (s *Server) handleImageExtractRegion(args json.RawMessage) (interface{}, error) {
	var a imageExtractRegionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return s.extractRegion(a.Path, image.Rect(a.X, a.Y, a.X+a.Width, a.Y+a.Height), a.Scale, a.outputArgs)
}

func (s *Server) extractRegion(path string, rect image.Rectangle, scale float64, out outputArgs) (*ImageResult, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	r := s.newRequest()
	defer r.close()
	id, err := s.engine.ExtractRegion(r.g, pipeline.FileInput(path), rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
	if err != nil {
		return nil, err
	}
	if scale != 0 && scale != 1 {
		if id, err = r.g.ResizeScale(id, scale, pipeline.KernelLanczos3); err != nil {
			return nil, err
		}
	}
	return r.output(id, out)
}

type imageCropQuadrantArgs struct {
	Path   string  `json:"path"`
	Region string  `json:"region"`
	Scale  float64 `json:"scale"`
	outputArgs
}

// quadrantRect returns the named region of a w x h image.
func quadrantRect(region string, w, h int) (image.Rectangle, error) {
	midX := w / 2
	midY := h / 2

	switch region {
	case "top-left":
		return image.Rect(0, 0, midX, midY), nil
	case "top-right":
		return image.Rect(midX, 0, w, midY), nil
	case "bottom-left":
		return image.Rect(0, midY, midX, h), nil
	case "bottom-right":
		return image.Rect(midX, midY, w, h), nil
	case "top-half":
		return image.Rect(0, 0, w, midY), nil
	case "bottom-half":
		return image.Rect(0, midY, w, h), nil
	case "left-half":
		return image.Rect(0, 0, midX, h), nil
	case "right-half":
		return image.Rect(midX, 0, w, h), nil
	case "center":
		// Center 50% of the image
		qW := w / 4
		qH := h / 4
		return image.Rect(qW, qH, w-qW, h-qH), nil
	default:
		return image.Rectangle{}, fmt.Errorf("unknown region: %s", region)
	}
}

func (s *Server) handleImageCropQuadrant(args json.RawMessage) (interface{}, error) {
	var a imageCropQuadrantArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	d, _, err := s.engine.Header(pipeline.FileInput(a.Path))
	if err != nil {
		return nil, err
	}
	rect, err := quadrantRect(a.Region, d.Width, d.Height)
	if err != nil {
		return nil, err
	}
	return s.extractRegion(a.Path, rect, a.Scale, a.outputArgs)
}

type imageSmartCropArgs struct {
	Path        string `json:"path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interesting string `json:"interesting"`
	outputArgs
}

func (s *Server) handleImageSmartCrop(args json.RawMessage) (interface{}, error) {
	var a imageSmartCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	interesting, err := parseInteresting(a.Interesting)
	if err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	if id, err = r.g.SmartCrop(id, a.Width, a.Height, interesting); err != nil {
		return nil, err
	}
	return r.output(id, a.outputArgs)
}

type imageTilesArgs struct {
	Path       string `json:"path"`
	TileWidth  int    `json:"tile_width"`
	TileHeight int    `json:"tile_height"`
	Index      *int   `json:"index,omitempty"`
	outputArgs
}

// TileRect is one tile of a grid.
type TileRect struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TilesResult describes a tile grid and optionally carries one tile.
type TilesResult struct {
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	TileWidth  int          `json:"tile_width"`
	TileHeight int          `json:"tile_height"`
	Columns    int          `json:"columns"`
	Rows       int          `json:"rows"`
	Tiles      []TileRect   `json:"tiles"`
	Tile       *ImageResult `json:"tile,omitempty"`
}

func (s *Server) handleImageTiles(args json.RawMessage) (interface{}, error) {
	var a imageTilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.TileWidth == 0 {
		a.TileWidth = tiling.DefaultTileSize
	}
	if a.TileHeight == 0 {
		a.TileHeight = a.TileWidth
	}
	if a.TileWidth < 0 || a.TileHeight < 0 {
		return nil, fmt.Errorf("tile size %dx%d must be positive", a.TileWidth, a.TileHeight)
	}

	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	d, err := r.g.Descriptor(id)
	if err != nil {
		return nil, err
	}

	cols, rows := tiling.Grid(d.Width, d.Height, a.TileWidth, a.TileHeight)
	res := &TilesResult{
		Width:      d.Width,
		Height:     d.Height,
		TileWidth:  a.TileWidth,
		TileHeight: a.TileHeight,
		Columns:    cols,
		Rows:       rows,
	}
	rects := tiling.TileRects(d.Width, d.Height, a.TileWidth, a.TileHeight)
	for i, t := range rects {
		res.Tiles = append(res.Tiles, TileRect{Index: i, X: t.Min.X, Y: t.Min.Y, Width: t.Dx(), Height: t.Dy()})
	}

	if a.Index != nil {
		if *a.Index < 0 || *a.Index >= len(rects) {
			return nil, fmt.Errorf("tile index %d outside 0-%d", *a.Index, len(rects)-1)
		}
		t := rects[*a.Index]
		tile, err := r.g.Crop(id, t.Min.X, t.Min.Y, t.Dx(), t.Dy())
		if err != nil {
			return nil, err
		}
		if res.Tile, err = r.output(tile, a.outputArgs); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// === Processing Handlers ===

// step is one operation of an image_transform request. Only the fields the
// operation uses are read.
type step struct {
	Op          string   `json:"op"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	X           int      `json:"x"`
	Y           int      `json:"y"`
	Top         int      `json:"top"`
	Right       int      `json:"right"`
	Bottom      int      `json:"bottom"`
	Left        int      `json:"left"`
	Band        int      `json:"band"`
	Scale       float64  `json:"scale"`
	Angle       float64  `json:"angle"`
	Sigma       float64  `json:"sigma"`
	Radius      float64  `json:"radius"`
	Amount      float64  `json:"amount"`
	Value       float64  `json:"value"`
	Brightness  float64  `json:"brightness"`
	Contrast    *float64 `json:"contrast,omitempty"`
	Saturation  *float64 `json:"saturation,omitempty"`
	Low         float64  `json:"low"`
	High        float64  `json:"high"`
	Threshold   float64  `json:"threshold"`
	Kernel      string   `json:"kernel"`
	Interesting string   `json:"interesting"`
	Extend      string   `json:"extend"`
	Gravity     string   `json:"gravity"`
	Direction   string   `json:"direction"`
	Background  string   `json:"background"`
}

type imageTransformArgs struct {
	Path  string `json:"path"`
	Steps []step `json:"steps"`
	outputArgs
}

func (s *Server) handleImageTransform(args json.RawMessage) (interface{}, error) {
	var a imageTransformArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	for i, st := range a.Steps {
		if id, err = r.apply(id, st); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
	}
	return r.output(id, a.outputArgs)
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// apply adds the nodes for one step on top of id.
func (r *request) apply(id pipeline.NodeID, st step) (pipeline.NodeID, error) {
	g := r.g
	bg, err := optionalColor(st.Background)
	if err != nil {
		return -1, err
	}
	extend := pipeline.ExtendBlack
	if st.Extend != "" {
		if extend, err = pipeline.ParseExtend(st.Extend); err != nil {
			return -1, err
		}
	}

	switch st.Op {
	case "resize", "fit":
		kernel, err := parseKernel(st.Kernel)
		if err != nil {
			return -1, err
		}
		switch {
		case st.Op == "fit":
			return g.ResizeToFit(id, st.Width, st.Height, kernel)
		case st.Scale != 0:
			return g.ResizeScale(id, st.Scale, kernel)
		default:
			return g.Resize(id, st.Width, st.Height, kernel)
		}
	case "crop":
		return g.Crop(id, st.X, st.Y, st.Width, st.Height)
	case "smartcrop":
		interesting, err := parseInteresting(st.Interesting)
		if err != nil {
			return -1, err
		}
		return g.SmartCrop(id, st.Width, st.Height, interesting)
	case "embed":
		return g.Embed(id, st.X, st.Y, st.Width, st.Height, extend, bg)
	case "gravity":
		dir := pipeline.GravityCentre
		if st.Gravity != "" {
			if dir, err = pipeline.ParseGravity(st.Gravity); err != nil {
				return -1, err
			}
		}
		return g.Gravity(id, dir, st.Width, st.Height, extend, bg)
	case "pad":
		return g.Pad(id, st.Top, st.Right, st.Bottom, st.Left, extend, bg)
	case "flip":
		switch st.Direction {
		case "", "horizontal":
			return g.Flip(id, pipeline.Horizontal)
		case "vertical":
			return g.Flip(id, pipeline.Vertical)
		default:
			return -1, fmt.Errorf("unknown direction: %s", st.Direction)
		}
	case "rot90":
		if st.Angle != math.Trunc(st.Angle) {
			return -1, fmt.Errorf("rot90 angle %v must be a whole multiple of 90", st.Angle)
		}
		return g.Rot90(id, int(st.Angle))
	case "rotate":
		return g.Rotate(id, st.Angle, bg)
	case "blur":
		return g.Blur(id, st.Sigma)
	case "sharpen":
		radius, amount := st.Radius, st.Amount
		if radius == 0 {
			radius = 1
		}
		if amount == 0 {
			amount = 1
		}
		return g.Sharpen(id, radius, amount)
	case "sobel":
		return g.Sobel(id)
	case "canny":
		sigma := st.Sigma
		if sigma == 0 {
			sigma = pipeline.DefaultCannySigma
		}
		return g.Canny(id, sigma, st.Low, st.High)
	case "grayscale":
		return g.Grayscale(id)
	case "invert":
		return g.Invert(id)
	case "brightness":
		return g.Brightness(id, st.Value)
	case "contrast":
		return g.Contrast(id, st.Value)
	case "saturation":
		return g.Saturation(id, st.Value)
	case "gamma":
		return g.Gamma(id, st.Value)
	case "adjust":
		return g.Adjust(id, st.Brightness, valueOr(st.Contrast, 1), valueOr(st.Saturation, 1))
	case "flatten":
		if bg == nil {
			bg = []float64{255}
		}
		return g.Flatten(id, bg)
	case "add_alpha":
		return g.AddAlpha(id)
	case "premultiply", "unpremultiply":
		// Both produce float; steps and outputs here work in uchar.
		scale := g.Premultiply
		if st.Op == "unpremultiply" {
			scale = g.Unpremultiply
		}
		scaled, err := scale(id)
		if err != nil {
			return -1, err
		}
		return g.Cast(scaled, pipeline.Uchar)
	case "extract_band":
		return g.ExtractBand(id, st.Band)
	case "equalize":
		return g.EqualizeHistogram(id)
	case "trim":
		threshold := st.Threshold
		if threshold == 0 {
			threshold = pipeline.DefaultTrimThreshold
		}
		rect, err := r.ev.FindTrim(id, threshold, bg)
		if err != nil {
			return -1, err
		}
		return g.Crop(id, rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
	default:
		return -1, fmt.Errorf("unknown op: %q", st.Op)
	}
}

type imageCompositeArgs struct {
	Path        string `json:"path"`
	OverlayPath string `json:"overlay_path"`
	Mode        string `json:"mode"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	outputArgs
}

func (s *Server) handleImageComposite(args json.RawMessage) (interface{}, error) {
	var a imageCompositeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	mode := pipeline.BlendOver
	if a.Mode != "" {
		var err error
		if mode, err = pipeline.ParseBlendMode(a.Mode); err != nil {
			return nil, err
		}
	}
	r := s.newRequest()
	defer r.close()
	base, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	overlay, err := r.load(a.OverlayPath)
	if err != nil {
		return nil, err
	}
	id, err := r.g.Composite(base, overlay, mode, a.X, a.Y)
	if err != nil {
		return nil, err
	}
	return r.output(id, a.outputArgs)
}

type shape struct {
	Type   string `json:"type"`
	X1     int    `json:"x1"`
	Y1     int    `json:"y1"`
	X2     int    `json:"x2"`
	Y2     int    `json:"y2"`
	Radius int    `json:"radius"`
	Fill   bool   `json:"fill"`
	Color  string `json:"color"`
}

type imageDrawArgs struct {
	Path       string  `json:"path"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Background string  `json:"background"`
	Shapes     []shape `json:"shapes"`
	outputArgs
}

func (s *Server) handleImageDraw(args json.RawMessage) (interface{}, error) {
	var a imageDrawArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()

	var c *pipeline.Canvas
	if a.Path != "" {
		id, err := r.load(a.Path)
		if err != nil {
			return nil, err
		}
		if c, err = s.engine.CanvasFrom(r.ev, id); err != nil {
			return nil, err
		}
	} else {
		if a.Background == "" {
			a.Background = "#FFFFFF"
		}
		bg, err := parseColor(a.Background)
		if err != nil {
			return nil, err
		}
		if c, err = s.engine.NewCanvas(a.Width, a.Height, len(bg)); err != nil {
			return nil, err
		}
		if err := c.DrawRect(image.Rect(0, 0, a.Width, a.Height), bg, true); err != nil {
			c.Close()
			return nil, err
		}
	}
	defer c.Close()

	for i, sh := range a.Shapes {
		if err := drawShape(c, sh); err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, sh.Type, err)
		}
	}
	id, err := r.g.Canvas(c)
	if err != nil {
		return nil, err
	}
	return r.output(id, a.outputArgs)
}

func drawShape(c *pipeline.Canvas, sh shape) error {
	ink, err := parseColor(sh.Color)
	if err != nil {
		return err
	}
	switch sh.Type {
	case "rect":
		return c.DrawRect(image.Rect(sh.X1, sh.Y1, sh.X2, sh.Y2), ink, sh.Fill)
	case "line":
		return c.DrawLine(sh.X1, sh.Y1, sh.X2, sh.Y2, ink)
	case "circle":
		return c.DrawCircle(sh.X1, sh.Y1, sh.Radius, ink, sh.Fill)
	case "fill":
		return c.FloodFill(sh.X1, sh.Y1, ink)
	default:
		return fmt.Errorf("unknown shape: %q", sh.Type)
	}
}

// === Color Operation Handlers ===

type imageSampleColorArgs struct {
	Path string `json:"path"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func (s *Server) handleImageSampleColor(args json.RawMessage) (interface{}, error) {
	var a imageSampleColorArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	return r.sample(id, a.X, a.Y)
}

func (r *request) sample(id pipeline.NodeID, x, y int) (*ColorResult, error) {
	d, err := r.g.Descriptor(id)
	if err != nil {
		return nil, err
	}
	px, err := r.ev.Pixel(id, x, y)
	if err != nil {
		return nil, err
	}
	c := colorOf(px, d)
	return &c, nil
}

// LabeledColorResult combines a color sample with its location and optional label.
type LabeledColorResult struct {
	Label string      `json:"label,omitempty"` // Optional label (empty if not provided)
	X     int         `json:"x"`               // X coordinate that was sampled
	Y     int         `json:"y"`               // Y coordinate that was sampled
	Color ColorResult `json:"color"`           // The color at this location
}

// MultiColorResult contains color samples from multiple points.
//
// Results are returned in the same order as the input points.
type MultiColorResult struct {
	Samples []LabeledColorResult `json:"samples"` // Color samples in input order
}

type imageSampleColorsMultiArgs struct {
	Path   string `json:"path"`
	Points []struct {
		X     int    `json:"x"`
		Y     int    `json:"y"`
		Label string `json:"label,omitempty"`
	} `json:"points"`
}

func (s *Server) handleImageSampleColorsMulti(args json.RawMessage) (interface{}, error) {
	var a imageSampleColorsMultiArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}

	res := &MultiColorResult{Samples: make([]LabeledColorResult, 0, len(a.Points))}
	for _, p := range a.Points {
		c, err := r.sample(id, p.X, p.Y)
		if err != nil {
			return nil, err
		}
		res.Samples = append(res.Samples, LabeledColorResult{Label: p.Label, X: p.X, Y: p.Y, Color: *c})
	}
	return res, nil
}

type imageDetectBackgroundArgs struct {
	Path       string `json:"path"`
	StripWidth int    `json:"strip_width"`
}

func (s *Server) handleImageDetectBackground(args json.RawMessage) (interface{}, error) {
	var a imageDetectBackgroundArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.StripWidth == 0 {
		a.StripWidth = pipeline.DefaultStripWidth
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	d, err := r.g.Descriptor(id)
	if err != nil {
		return nil, err
	}
	px, err := r.ev.DetectBackground(id, a.StripWidth)
	if err != nil {
		return nil, err
	}
	return colorOf(px, d), nil
}

type imageFindTrimArgs struct {
	Path       string   `json:"path"`
	Threshold  *float64 `json:"threshold,omitempty"`
	Background string   `json:"background"`
}

// TrimResult is the content box found by image_find_trim.
type TrimResult struct {
	X           int  `json:"x"`
	Y           int  `json:"y"`
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	ImageWidth  int  `json:"image_width"`
	ImageHeight int  `json:"image_height"`
	Trimmed     bool `json:"trimmed"`
}

func (s *Server) handleImageFindTrim(args json.RawMessage) (interface{}, error) {
	var a imageFindTrimArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	bg, err := optionalColor(a.Background)
	if err != nil {
		return nil, err
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	d, err := r.g.Descriptor(id)
	if err != nil {
		return nil, err
	}
	rect, err := r.ev.FindTrim(id, valueOr(a.Threshold, pipeline.DefaultTrimThreshold), bg)
	if err != nil {
		return nil, err
	}
	return &TrimResult{
		X:           rect.Min.X,
		Y:           rect.Min.Y,
		Width:       rect.Dx(),
		Height:      rect.Dy(),
		ImageWidth:  d.Width,
		ImageHeight: d.Height,
		Trimmed:     rect != d.Bounds(),
	}, nil
}

// === Shape Detection Handlers ===

type imageEdgeDetectArgs struct {
	Path          string   `json:"path"`
	Method        string   `json:"method"`
	Sigma         *float64 `json:"sigma,omitempty"`
	ThresholdLow  float64  `json:"threshold_low"`
	ThresholdHigh float64  `json:"threshold_high"`
	outputArgs
}

func (s *Server) handleImageEdgeDetect(args json.RawMessage) (interface{}, error) {
	var a imageEdgeDetectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.ThresholdLow == 0 {
		a.ThresholdLow = pipeline.DefaultCannyLow
	}
	if a.ThresholdHigh == 0 {
		a.ThresholdHigh = pipeline.DefaultCannyHigh
	}
	r := s.newRequest()
	defer r.close()
	id, err := r.load(a.Path)
	if err != nil {
		return nil, err
	}
	switch a.Method {
	case "", "canny":
		id, err = r.g.Canny(id, valueOr(a.Sigma, pipeline.DefaultCannySigma), a.ThresholdLow, a.ThresholdHigh)
	case "sobel":
		id, err = r.g.Sobel(id)
	default:
		return nil, fmt.Errorf("unknown edge method: %s", a.Method)
	}
	if err != nil {
		return nil, err
	}
	return r.output(id, a.outputArgs)
}

// === Engine Handlers ===

type cacheSetLimitsArgs struct {
	MaxOps   *int   `json:"max_ops,omitempty"`
	MaxBytes *int64 `json:"max_bytes,omitempty"`
	MaxFiles *int   `json:"max_files,omitempty"`
}

func (s *Server) handleCacheSetLimits(args json.RawMessage) (interface{}, error) {
	var a cacheSetLimitsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	ops, maxBytes, files := s.engine.CacheLimits()
	if a.MaxOps != nil {
		ops = *a.MaxOps
	}
	if a.MaxBytes != nil {
		maxBytes = *a.MaxBytes
	}
	if a.MaxFiles != nil {
		files = *a.MaxFiles
	}
	if ops < 0 || maxBytes < 0 || files < 0 {
		return nil, fmt.Errorf("cache limits must not be negative")
	}
	s.engine.SetCacheLimits(ops, maxBytes, files)
	return s.engine.Stats(), nil
}
