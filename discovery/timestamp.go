package discovery

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// timestampLayout matches the reference client's device-discovery log
// timestamp format (ISO-ish, second resolution).
const timestampLayout = "%Y-%m-%d %H:%M:%S"

// FormatTimestamp renders t the way discovered-device diagnostics are
// logged, replacing the reference TNC's cgo call into C's strftime
// (beacon.go) with the native Go library of the same name that was
// already a declared, previously-unused dependency.
func FormatTimestamp(t time.Time) (string, error) {
	return strftime.Format(timestampLayout, t)
}
