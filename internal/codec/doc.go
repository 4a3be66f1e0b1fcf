// Package codec provides the file codecs of the image pipeline.
//
// Two codecs are available:
//   - Imaging: JPEG, PNG, GIF, TIFF and BMP via github.com/disintegration/imaging,
//     with EXIF auto-orientation and encoding
//   - WebP: decode-only via golang.org/x/image/webp
//
// Default returns a registry holding both. HEIF, AVIF and JPEG XL are
// recognised by their magic bytes but have no codec, so loading them fails
// with an UnsupportedFormat error.
//
// # Example Usage
//
//	engine, err := pipeline.NewEngine(pipeline.DefaultConfig(), codec.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
package codec

import "github.com/ironsheep/image-pipeline/internal/pipeline"

// Default returns a registry with every codec in this package.
func Default() *pipeline.Registry {
	return pipeline.NewRegistry(NewImaging(), NewWebP())
}
