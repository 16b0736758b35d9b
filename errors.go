package labwire

import "github.com/scopelab/labwire/internal/werrors"

// Kind, Error, and the sentinel errors below are aliases onto the leaf
// werrors package: every transport package imports werrors directly
// (see internal/werrors's doc comment for why), and this root package
// re-exports the same identifiers so callers only ever write
// labwire.Error, labwire.KindTimeout, and so on.
type Kind = werrors.Kind

const (
	KindAddressParse  = werrors.KindAddressParse
	KindTimeout       = werrors.KindTimeout
	KindConnection    = werrors.KindConnection
	KindProtocol      = werrors.KindProtocol
	KindFatalProtocol = werrors.KindFatalProtocol
)

type Error = werrors.Error

// NewError wraps err (which may be nil) as an *Error of the given Kind,
// tagged with the operation name.
func NewError(kind Kind, op string, err error) *Error {
	return werrors.NewError(kind, op, err)
}

// Sentinel errors for use with errors.Is(err, labwire.ErrTimeout) and
// friends; they carry no Op or wrapped cause of their own.
var (
	ErrAddressParse  = werrors.ErrAddressParse
	ErrTimeout       = werrors.ErrTimeout
	ErrConnection    = werrors.ErrConnection
	ErrProtocol      = werrors.ErrProtocol
	ErrFatalProtocol = werrors.ErrFatalProtocol
)
