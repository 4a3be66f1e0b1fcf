package pipeline

import (
	"fmt"
	"image"
)

// Kind identifies an operation.
type Kind int

// Operation kinds.
const (
	KindSource Kind = iota + 1
	KindCanvas
	KindCrop
	KindEmbed
	KindFlip
	KindRot
	KindRotate
	KindResize
	KindSmartCrop
	KindGrayscale
	KindInvert
	KindLinear
	KindGamma
	KindSaturation
	KindCast
	KindFlatten
	KindAbs
	KindExtractBand
	KindBandAppend
	KindBandJoin
	KindHistEqualize
	KindBlur
	KindSharpen
	KindSobel
	KindCanny
	KindComposite
	KindSubtract
	KindPremultiply
	KindUnpremultiply
	KindMetadata
)

var kindNames = [...]string{
	KindSource:        "source",
	KindCanvas:        "canvas",
	KindCrop:          "crop",
	KindEmbed:         "embed",
	KindFlip:          "flip",
	KindRot:           "rot",
	KindRotate:        "rotate",
	KindResize:        "resize",
	KindSmartCrop:     "smartcrop",
	KindGrayscale:     "grayscale",
	KindInvert:        "invert",
	KindLinear:        "linear",
	KindGamma:         "gamma",
	KindSaturation:    "saturation",
	KindCast:          "cast",
	KindFlatten:       "flatten",
	KindAbs:           "abs",
	KindExtractBand:   "extract_band",
	KindBandAppend:    "band_append",
	KindBandJoin:      "band_join",
	KindHistEqualize:  "hist_equalize",
	KindBlur:          "blur",
	KindSharpen:       "sharpen",
	KindSobel:         "sobel",
	KindCanny:         "canny",
	KindComposite:     "composite",
	KindSubtract:      "subtract",
	KindPremultiply:   "premultiply",
	KindUnpremultiply: "unpremultiply",
	KindMetadata:      "metadata",
}

func (k Kind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Operation is the parameter record of one node. The set of operations is
// closed: every implementation lives in this package and must provide
// validation, descriptor inference, input demand and computation together.
type Operation interface {
	Kind() Kind

	// arity is the number of inputs.
	arity() int
	// validate checks parameter ranges without looking at inputs.
	validate() error
	// infer computes the output descriptor from the input descriptors.
	infer(in []Descriptor) (Descriptor, error)
	// demand returns, per input, the rectangle needed to compute out. An
	// empty rectangle means the input is not needed.
	demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error)
	// compute fills out from the demanded input regions. Inputs that were
	// not needed are nil.
	compute(ec *evalContext, out *Region, in []*Region) error
	// fingerprint writes the parameters into a signature.
	fingerprint(f *fingerprinter)
}

// volatileOp is implemented by operations whose output can change after the
// node is built. Their results are never cached.
type volatileOp interface {
	volatile() bool
}

// accessChecker is implemented by sources that restrict read order.
type accessChecker interface {
	checkAccess(r image.Rectangle) error
}

// NodeID indexes a node within its graph.
type NodeID int

// Node is one step of a pipeline. Nodes are immutable once added.
type Node struct {
	ID     NodeID
	Op     Operation
	Inputs []NodeID
	Desc   Descriptor
	Sig    Signature

	volatile bool
}

// Kind returns the node's operation kind.
func (n *Node) Kind() Kind {
	return n.Op.Kind()
}

// evalContext carries what an operation needs while being evaluated.
type evalContext struct {
	ev   *Evaluator
	node *Node
	in   []Descriptor
}

// input returns the descriptor of input i.
func (ec *evalContext) input(i int) Descriptor {
	return ec.in[i]
}

// single wraps one rectangle as a demand list.
func single(r image.Rectangle) []image.Rectangle {
	return []image.Rectangle{r}
}

// pad grows r by n on every side and clips it to bounds.
func pad(r image.Rectangle, n int, bounds image.Rectangle) image.Rectangle {
	return r.Inset(-n).Intersect(bounds)
}

// requireInputs checks the input count.
func requireInputs(kind Kind, in []Descriptor, n int) error {
	if len(in) != n {
		return errorf(InvalidParameter, kind.String(), "need %d inputs, got %d", n, len(in))
	}
	return nil
}

// requireUchar checks that an operation built on 8-bit image libraries gets
// 8-bit input of at most four bands.
func requireUchar(kind Kind, d Descriptor) error {
	if d.Format != Uchar {
		return errorf(DescriptorMismatch, kind.String(), "needs uchar input, got %s", d.Format)
	}
	if d.Bands > 4 {
		return errorf(DescriptorMismatch, kind.String(), "needs at most 4 bands, got %d", d.Bands)
	}
	return nil
}
