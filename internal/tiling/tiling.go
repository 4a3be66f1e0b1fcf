// Package tiling splits an image extent into tiles and horizontal strips.
//
// All rectangles use image.Rectangle with the image origin at (0,0).
// Edge tiles and the last strip are clipped to the remaining extent, so they
// may be smaller than the requested size but never larger and never empty.
package tiling

import "image"

// DefaultTileSize is the tile edge used when materialising whole images.
const DefaultTileSize = 256

// TileRects returns the tiles covering a width x height image in row-major
// order: left to right, then top to bottom. It returns nil when either tile
// dimension is not positive or the image is empty.
func TileRects(width, height, tileW, tileH int) []image.Rectangle {
	if tileW <= 0 || tileH <= 0 || width <= 0 || height <= 0 {
		return nil
	}

	cols := (width + tileW - 1) / tileW
	rows := (height + tileH - 1) / tileH
	rects := make([]image.Rectangle, 0, cols*rows)

	for y := 0; y < height; y += tileH {
		h := min(tileH, height-y)
		for x := 0; x < width; x += tileW {
			w := min(tileW, width-x)
			rects = append(rects, image.Rect(x, y, x+w, y+h))
		}
	}
	return rects
}

// Grid returns the number of tile columns and rows for the given extent.
func Grid(width, height, tileW, tileH int) (cols, rows int) {
	if tileW <= 0 || tileH <= 0 || width <= 0 || height <= 0 {
		return 0, 0
	}
	return (width + tileW - 1) / tileW, (height + tileH - 1) / tileH
}

// StripCount returns ceil(height / stripHeight), or 0 when stripHeight is not
// positive.
func StripCount(height, stripHeight int) int {
	if stripHeight <= 0 || height <= 0 {
		return 0
	}
	return (height + stripHeight - 1) / stripHeight
}

// StripRect returns the index-th full-width strip. ok is false when index is
// outside [0, StripCount).
func StripRect(width, height, stripHeight, index int) (r image.Rectangle, ok bool) {
	if index < 0 || index >= StripCount(height, stripHeight) || width <= 0 {
		return image.Rectangle{}, false
	}
	y := index * stripHeight
	return image.Rect(0, y, width, min(y+stripHeight, height)), true
}

// Strips returns every strip of the extent, top to bottom.
func Strips(width, height, stripHeight int) []image.Rectangle {
	return TileRects(width, height, width, stripHeight)
}
