package labwire

import "github.com/scopelab/labwire/internal/werrors"

// Logger is the debug-trace seam every client in this module accepts.
// It is satisfied by *charmbracelet/log.Logger without this module ever
// calling log.SetOutput, log.SetLevel, or any other configuration
// function — logging setup stays the caller's responsibility. A nil
// Logger is valid and means "don't log".
type Logger = werrors.Logger

func Debugf(l Logger, format string, args ...any) { werrors.Debugf(l, format, args...) }
func Infof(l Logger, format string, args ...any)  { werrors.Infof(l, format, args...) }
func Warnf(l Logger, format string, args ...any)  { werrors.Warnf(l, format, args...) }
func Errorf(l Logger, format string, args ...any) { werrors.Errorf(l, format, args...) }
