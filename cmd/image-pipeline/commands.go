package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/cobra"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
	"github.com/ironsheep/image-pipeline/internal/server"
	"github.com/ironsheep/image-pipeline/internal/tiling"
)

func newServeCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdin/stdout",
		Long: "Serve pipeline tools over the MCP protocol. Requests are read from stdin and responses\n" +
			"written to stdout; configure the command in your MCP client.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			slog.Info("starting MCP server", "version", Version, "build_time", BuildTime, "commit", GitCommit)
			srv := server.New(e, server.Info{Name: "image-pipeline", Version: Version})
			err = srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func newInfoCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Print an image's header without decoding its pixels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			d, loader, err := e.Header(pipeline.FileInput(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]interface{}{
					"path":           args[0],
					"width":          d.Width,
					"height":         d.Height,
					"bands":          d.Bands,
					"interpretation": d.Interpretation.String(),
					"format":         d.SourceFormat.String(),
					"loader":         loader,
				})
			}
			fmt.Fprintf(out, "%s: %dx%d, %d bands, %s, %s (%s)\n",
				args[0], d.Width, d.Height, d.Bands, d.Interpretation, d.SourceFormat, loader)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func newThumbnailCmd(opts *options) *cobra.Command {
	var (
		width, height int
		crop          bool
		kernel        string
		quality       int
		sequential    bool
	)
	cmd := &cobra.Command{
		Use:   "thumbnail <input> <output>",
		Short: "Write a thumbnail that fits within --width x --height",
		Long: "Write a thumbnail of input. The output format follows the output file extension.\n" +
			"With --crop the thumbnail fills the box exactly and the overflow is cropped from the centre.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := pipeline.ParseKernel(kernel)
			if err != nil {
				return err
			}
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			g := pipeline.NewGraph()
			defer g.Close()
			id, err := e.Thumbnail(g, pipeline.FileInput(args[0]), width, height, pipeline.ThumbnailOptions{
				Kernel:     k,
				Crop:       crop,
				Sequential: sequential,
			})
			if err != nil {
				return err
			}
			if err := e.Evaluator(g).Save(args[1], id, pipeline.EncodeOptions{Quality: quality}); err != nil {
				return err
			}
			d, _ := g.Descriptor(id)
			slog.Info("thumbnail written", "path", args[1], "width", d.Width, "height", d.Height)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&width, "width", "W", 128, "Maximum width")
	f.IntVarP(&height, "height", "H", 128, "Maximum height")
	f.BoolVar(&crop, "crop", false, "Fill the box and crop the overflow")
	f.StringVar(&kernel, "kernel", "lanczos3", "Resampling kernel (nearest, linear, cubic, lanczos2, lanczos3)")
	f.IntVarP(&quality, "quality", "q", 0, "JPEG quality 1-100 (default: encoder default)")
	f.BoolVar(&sequential, "sequential", false, "Read the input top to bottom only")
	return cmd
}

func newTilesCmd(opts *options) *cobra.Command {
	var (
		tileWidth, tileHeight int
		format                string
		quality               int
	)
	cmd := &cobra.Command{
		Use:   "tiles <input> <output-dir>",
		Short: "Split an image into tiles",
		Long: "Write every tile of input to output-dir as tile_<row>_<col>.<format>. Tiles are evaluated\n" +
			"one at a time, so only the source rows a tile needs are processed for it.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tileHeight == 0 {
				tileHeight = tileWidth
			}
			if tileWidth <= 0 || tileHeight <= 0 {
				return fmt.Errorf("tile size %dx%d must be positive", tileWidth, tileHeight)
			}
			f := pipeline.ParseFormat(format)
			if f == pipeline.FormatUnknown {
				return fmt.Errorf("unknown output format: %s", format)
			}
			if err := os.MkdirAll(args[1], 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			g := pipeline.NewGraph()
			defer g.Close()
			id, err := e.Load(g, pipeline.FileInput(args[0]), pipeline.LoadOptions{})
			if err != nil {
				return err
			}
			d, err := g.Descriptor(id)
			if err != nil {
				return err
			}

			ev := e.Evaluator(g)
			cols, _ := tiling.Grid(d.Width, d.Height, tileWidth, tileHeight)
			rects := tiling.TileRects(d.Width, d.Height, tileWidth, tileHeight)
			for i, r := range rects {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				tile, err := g.Crop(id, r.Min.X, r.Min.Y, r.Dx(), r.Dy())
				if err != nil {
					return err
				}
				name := filepath.Join(args[1], fmt.Sprintf("tile_%d_%d.%s", i/cols, i%cols, f.Extension()))
				if err := ev.Save(name, tile, pipeline.EncodeOptions{Format: f, Quality: quality}); err != nil {
					return err
				}
				slog.Debug("tile written", "path", name, "rect", r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tiles written to %s\n", len(rects), args[1])
			return nil
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&tileWidth, "tile-width", tiling.DefaultTileSize, "Tile width")
	fl.IntVar(&tileHeight, "tile-height", 0, "Tile height (default: tile width)")
	fl.StringVar(&format, "format", "png", "Tile format (png, jpeg, gif, tiff, bmp)")
	fl.IntVarP(&quality, "quality", "q", 0, "JPEG quality 1-100 (default: encoder default)")
	return cmd
}

func newTrimCmd(opts *options) *cobra.Command {
	var (
		threshold  float64
		background string
	)
	cmd := &cobra.Command{
		Use:   "trim <input> [output]",
		Short: "Find the content box of an image and optionally write it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bg []float64
			if background != "" {
				c, err := colorful.Hex(background)
				if err != nil {
					return fmt.Errorf("invalid background %q: %w", background, err)
				}
				r, g, b := c.RGB255()
				bg = []float64{float64(r), float64(g), float64(b)}
			}
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			g := pipeline.NewGraph()
			defer g.Close()
			id, err := e.Load(g, pipeline.FileInput(args[0]), pipeline.LoadOptions{})
			if err != nil {
				return err
			}
			ev := e.Evaluator(g)
			rect, err := ev.FindTrim(id, threshold, bg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %d %d %d\n", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
			if len(args) < 2 {
				return nil
			}
			trimmed, err := g.Crop(id, rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
			if err != nil {
				return err
			}
			return ev.Save(args[1], trimmed, pipeline.EncodeOptions{})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", pipeline.DefaultTrimThreshold, "Per-band difference that counts as content")
	cmd.Flags().StringVar(&background, "background", "", "Background hex colour (default: the top-left pixel)")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <image>",
		Short: "Print per-band statistics as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.engine()
			if err != nil {
				return err
			}
			defer e.Close()

			g := pipeline.NewGraph()
			defer g.Close()
			id, err := e.Load(g, pipeline.FileInput(args[0]), pipeline.LoadOptions{Sequential: true})
			if err != nil {
				return err
			}
			st, err := e.Evaluator(g).Statistics(id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
