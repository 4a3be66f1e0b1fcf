package pipeline

import (
	"bytes"
	"path/filepath"
	"strings"
)

// ImageFormat is a file format.
type ImageFormat int

// File formats.
const (
	FormatUnknown ImageFormat = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatHEIF
	FormatAVIF
	FormatJXL
	FormatGIF
	FormatTIFF
	FormatBMP
)

var formatNames = map[ImageFormat]string{
	FormatJPEG: "jpeg",
	FormatPNG:  "png",
	FormatWebP: "webp",
	FormatHEIF: "heif",
	FormatAVIF: "avif",
	FormatJXL:  "jxl",
	FormatGIF:  "gif",
	FormatTIFF: "tiff",
	FormatBMP:  "bmp",
}

// formatExts maps lower-case extensions without the dot.
var formatExts = map[string]ImageFormat{
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"webp": FormatWebP,
	"heic": FormatHEIF,
	"heif": FormatHEIF,
	"avif": FormatAVIF,
	"jxl":  FormatJXL,
	"gif":  FormatGIF,
	"tif":  FormatTIFF,
	"tiff": FormatTIFF,
	"bmp":  FormatBMP,
}

var primaryExt = map[ImageFormat]string{
	FormatJPEG: "jpg",
	FormatPNG:  "png",
	FormatWebP: "webp",
	FormatHEIF: "heic",
	FormatAVIF: "avif",
	FormatJXL:  "jxl",
	FormatGIF:  "gif",
	FormatTIFF: "tif",
	FormatBMP:  "bmp",
}

func (f ImageFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// Extension returns the preferred file extension without the dot.
func (f ImageFormat) Extension() string {
	return primaryExt[f]
}

// ParseFormat accepts a format name or extension such as "jpeg" or "tif".
func ParseFormat(s string) ImageFormat {
	s = strings.ToLower(strings.TrimPrefix(s, "."))
	if f, ok := formatExts[s]; ok {
		return f
	}
	for f, name := range formatNames {
		if name == s {
			return f
		}
	}
	return FormatUnknown
}

// FormatFromFilename derives the format from a file extension.
func FormatFromFilename(name string) ImageFormat {
	return ParseFormat(filepath.Ext(name))
}

// SniffLen is the number of leading bytes SniffFormat looks at.
const SniffLen = 16

var (
	magicJPEG   = []byte{0xFF, 0xD8, 0xFF}
	magicPNG    = []byte("\x89PNG\r\n\x1a\n")
	magicGIF87  = []byte("GIF87a")
	magicGIF89  = []byte("GIF89a")
	magicTIFFLE = []byte("II*\x00")
	magicTIFFBE = []byte("MM\x00*")
	magicBMP    = []byte("BM")
	magicRIFF   = []byte("RIFF")
	magicWEBP   = []byte("WEBP")
	magicJXL    = []byte{0xFF, 0x0A}
	magicJXLBox = []byte{0x00, 0x00, 0x00, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}
	magicFtyp   = []byte("ftyp")
	heifBrands  = []string{"heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1"}
	avifBrands  = []string{"avif", "avis"}
)

// SniffFormat identifies a format from its leading bytes.
func SniffFormat(header []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(header, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(header, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(header, magicGIF87), bytes.HasPrefix(header, magicGIF89):
		return FormatGIF
	case bytes.HasPrefix(header, magicTIFFLE), bytes.HasPrefix(header, magicTIFFBE):
		return FormatTIFF
	case bytes.HasPrefix(header, magicJXL), bytes.HasPrefix(header, magicJXLBox):
		return FormatJXL
	case len(header) >= 12 && bytes.Equal(header[:4], magicRIFF) && bytes.Equal(header[8:12], magicWEBP):
		return FormatWebP
	case len(header) >= 12 && bytes.Equal(header[4:8], magicFtyp):
		brand := string(header[8:12])
		for _, b := range avifBrands {
			if brand == b {
				return FormatAVIF
			}
		}
		for _, b := range heifBrands {
			if brand == b {
				return FormatHEIF
			}
		}
	case bytes.HasPrefix(header, magicBMP):
		return FormatBMP
	}
	return FormatUnknown
}
