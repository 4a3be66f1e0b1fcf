// Package pipeline builds and evaluates demand-driven image pipelines.
//
// A pipeline is a Graph of immutable nodes. Each node holds an Operation and
// the ids of its inputs, which are always older nodes, so a graph is in
// topological order by construction. Adding a node validates its parameters
// and infers its output Descriptor; no pixels are computed until a region of
// a node is requested from an Evaluator.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - Rectangles follow image.Rectangle: Min is inclusive, Max is exclusive
//
// # Evaluation
//
// Evaluating a rectangle of a node asks each input only for the pixels the
// operation needs: point operations the same rectangle, neighbourhood
// operations the rectangle padded by their radius, geometric operations the
// inverse-mapped rectangle. Results are kept in an Engine-wide cache keyed by
// node signature and rectangle, so identical sub-pipelines in different
// graphs share work. A tile of a node is always identical to the same
// rectangle cut from the whole image.
//
// # Samples
//
// Pixels are interleaved. Uchar samples are 8 bits; Float samples are
// little-endian float32. Alpha, when present, is the last band and is never
// premultiplied.
//
// # Thread Safety
//
// Engine, Graph and Evaluator are safe for concurrent use. Regions returned
// by an Evaluator may be shared with the cache and must not be modified.
// Canvas is the one mutable image; its drawing methods lock it.
//
// # Error Handling
//
// Every error is an *Error carrying an ErrorKind. Use errors.Is with the
// Err sentinels, or KindOf:
//   - InvalidParameter: a parameter outside its domain
//   - DescriptorMismatch: inputs that do not suit the operation
//   - OutOfBounds: a rectangle outside the image
//   - SequentialAccessViolation: a sequential source read upwards
//   - UnsupportedFormat: no codec, or a codec without the capability
//   - CodecFailure: the codec's own error, available through Unwrap
//   - OutOfMemory: the memory limit could not be met
package pipeline
