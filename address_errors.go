package labwire

import "fmt"

var errEmptyAddress = fmt.Errorf("empty address")

func errUnknownScheme(scheme string) error {
	return fmt.Errorf("unknown address scheme %q", scheme)
}

func errMalformed(s string) error {
	return fmt.Errorf("malformed address %q", s)
}
