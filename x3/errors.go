package x3

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core codec can
// surface to callers, per the archive format's error taxonomy.
type Kind int

const (
	// KindBufferFull means a BitWriter ran out of room to write.
	KindBufferFull Kind = iota
	// KindUnexpectedEOF means a BitReader ran out of bits.
	KindUnexpectedEOF
	// KindUnaryOverflow means a unary run exceeded the configured
	// maximum, protecting the reader from adversarial input.
	KindUnaryOverflow
	// KindNotFound means a sync-word scan reached the end of the
	// buffer without a match.
	KindNotFound
	// KindUnsupportedFormat means the input or archive advertises a
	// bit depth, channel count or version this codec cannot read.
	KindUnsupportedFormat
	// KindArchiveHeaderCorrupt means the archive magic or header CRC
	// did not validate at open.
	KindArchiveHeaderCorrupt
	// KindFrameCorrupt means a frame's header or payload CRC failed;
	// it carries the number of bits the decoder skipped while
	// resynchronising.
	KindFrameCorrupt
	// KindCorruptBlock means a unary overflow or impossible selector
	// was found inside an otherwise length-valid frame.
	KindCorruptBlock
	// KindEncodeOverflow means a block fell back to BFP and one of its
	// samples does not fit in max_bfp_bits.
	KindEncodeOverflow
)

func (k Kind) String() string {
	switch k {
	case KindBufferFull:
		return "BufferFull"
	case KindUnexpectedEOF:
		return "UnexpectedEof"
	case KindUnaryOverflow:
		return "UnaryOverflow"
	case KindNotFound:
		return "NotFound"
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindArchiveHeaderCorrupt:
		return "ArchiveHeaderCorrupt"
	case KindFrameCorrupt:
		return "FrameCorrupt"
	case KindCorruptBlock:
		return "CorruptBlock"
	case KindEncodeOverflow:
		return "EncodeOverflow"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every package in the
// codec pipeline. Callers that need to branch on the failure category
// should use errors.As to recover it and inspect Kind.
type Error struct {
	Kind Kind

	// SkippedBits is set on KindFrameCorrupt: the number of bits the
	// decoder advanced past the damaged frame's sync word while
	// resynchronising.
	SkippedBits int

	msg string
	err error
}

// NewError builds an *Error of the given kind with a formatted
// message, no wrapped cause.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error of the given kind that wraps cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// FrameCorruptError builds the KindFrameCorrupt event the decoder
// reports when it resynchronises past a damaged frame.
func FrameCorruptError(skippedBits int, format string, args ...any) *Error {
	return &Error{Kind: KindFrameCorrupt, SkippedBits: skippedBits, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error of the same Kind, so
// errors.Is(err, &x3.Error{Kind: x3.KindFrameCorrupt}) matches any
// error of that kind; KindOf below returns the kind directly.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
