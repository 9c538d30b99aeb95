// Package format defines the structured error model shared by the on-disk
// codec packages. Every parse or export failure reports which structural
// layer failed and at which absolute byte offset, so a broken image can be
// debugged from the error message alone.
package format

import (
	"errors"
	"fmt"
)

// Kind classifies a codec failure.
type Kind int

// Failure kinds.
const (
	// TruncatedInput: fewer bytes available than a fixed-size record requires.
	TruncatedInput Kind = iota + 1
	// BadSignature: a required magic/signature field does not match.
	BadSignature
	// IntegrityViolation: a computed checksum/CRC disagrees with a stored one,
	// or a redundant structure disagrees with its primary copy.
	IntegrityViolation
	// UnsupportedLayout: structurally valid input in a variant the codec does
	// not handle.
	UnsupportedLayout
	// Unimplemented: a write-path operation the codec does not support yet.
	Unimplemented
)

func (k Kind) String() string {
	switch k {
	case TruncatedInput:
		return "truncated input"
	case BadSignature:
		return "bad signature"
	case IntegrityViolation:
		return "integrity violation"
	case UnsupportedLayout:
		return "unsupported layout"
	case Unimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching. A *Error with Kind K matches the
// corresponding sentinel.
var (
	ErrTruncated          = &Error{Kind: TruncatedInput}
	ErrBadSignature       = &Error{Kind: BadSignature}
	ErrIntegrityViolation = &Error{Kind: IntegrityViolation}
	ErrUnsupportedLayout  = &Error{Kind: UnsupportedLayout}
	ErrUnimplemented      = &Error{Kind: Unimplemented}
)

// Layer names the structural layer an error originated in.
type Layer string

// Structural layers.
const (
	LayerMBR        Layer = "mbr"
	LayerGPT        Layer = "gpt"
	LayerFATBoot    Layer = "fat boot sector"
	LayerFATFsInfo  Layer = "fat fs-info sector"
	LayerFATTable   Layer = "fat table"
	LayerFATDir     Layer = "fat directory"
	LayerExt        Layer = "ext superblock"
	LayerUBootEnv   Layer = "u-boot environment"
	LayerUBootImage Layer = "u-boot image"
)

// Error is a structural codec error. Offset is the absolute byte offset of
// the record the failure was detected in.
type Error struct {
	Layer  Layer
	Offset int64
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s at offset %d", e.Layer, e.Kind, e.Offset)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports kind equality, so errors.Is(err, format.ErrBadSignature) matches
// any bad-signature error regardless of layer and offset.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != 0 && t.Kind != e.Kind {
		return false
	}
	if t.Layer != "" && t.Layer != e.Layer {
		return false
	}
	return true
}

// Errorf builds a *Error with a formatted detail message.
func Errorf(layer Layer, offset int64, kind Kind, detail string, args ...interface{}) *Error {
	return &Error{Layer: layer, Offset: offset, Kind: kind, Detail: fmt.Sprintf(detail, args...)}
}

// Wrap builds a *Error around an underlying cause.
func Wrap(layer Layer, offset int64, kind Kind, cause error, detail string) *Error {
	return &Error{Layer: layer, Offset: offset, Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind from err, or zero when err is not a format error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
