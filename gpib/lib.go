//go:build cgo && !windows

// Package gpib implements two ways of reaching a GPIB instrument: a
// direct binding to a platform GPIB library (linux-gpib, NI-488.2) via
// cgo dlopen/dlsym, and a Prologix USB/Ethernet-to-GPIB controller
// adapter that speaks the ++-prefixed command language over a serial or
// TCP transport.
//
// The dlopen/dlsym technique mirrors the pervasive cgo usage in the
// teacher's own native-library bindings (cgo_shims.go, direwolf_h.go),
// generalized here from a statically linked header to a library located
// at runtime by the GPIB_LIBRARY environment variable — a GPIB library
// is not a build dependency of this module the way direwolf.h is a
// build dependency of the teacher, so it must be loaded dynamically, not
// linked.
package gpib

/*
#include <dlfcn.h>
#include <stdlib.h>

typedef int (*ibdev_fn)(int, int, int, int, int, int);
typedef int (*ibwrt_fn)(int, const char*, long);
typedef int (*ibrd_fn)(int, char*, long);
typedef int (*ibln_fn)(int, int, int, short*);
typedef int (*ibsic_fn)(int);
typedef int (*ibclr_fn)(int);
typedef int (*ibloc_fn)(int);
typedef int (*ibrsp_fn)(int, char*);
typedef int (*ibonl_fn)(int, int);
typedef int (*ibtmo_fn)(int, int);
typedef long (*ibcntl_fn)(void);

static int call_ibdev(void *f, int board, int pad, int sad, int tmo, int eot, int eos) {
    return ((ibdev_fn)f)(board, pad, sad, tmo, eot, eos);
}
static int call_ibwrt(void *f, int ud, const char *buf, long count) {
    return ((ibwrt_fn)f)(ud, buf, count);
}
static int call_ibrd(void *f, int ud, char *buf, long count) {
    return ((ibrd_fn)f)(ud, buf, count);
}
static int call_ibln(void *f, int ud, int pad, int sad, short *found) {
    return ((ibln_fn)f)(ud, pad, sad, found);
}
static int call_ibsic(void *f, int ud) { return ((ibsic_fn)f)(ud); }
static int call_ibclr(void *f, int ud) { return ((ibclr_fn)f)(ud); }
static int call_ibloc(void *f, int ud) { return ((ibloc_fn)f)(ud); }
static int call_ibrsp(void *f, int ud, char *spr) { return ((ibrsp_fn)f)(ud, spr); }
static int call_ibonl(void *f, int ud, int v) { return ((ibonl_fn)f)(ud, v); }
static int call_ibtmo(void *f, int ud, int v) { return ((ibtmo_fn)f)(ud, v); }
static long call_ibcntl(void *f) { return ((ibcntl_fn)f)(); }
*/
import "C"

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"unsafe"
)

// candidateLibraries is tried, in order, when GPIB_LIBRARY is unset.
var candidateLibraries = []string{
	"libgpib.so.0",
	"/usr/local/lib/libgpib.so.0",
	"libgpib.so",
}

// library is a dlopen'd handle to a platform GPIB library and its
// resolved ib* symbols. It is a package-level singleton because the
// underlying library itself is process-global shared state, matching
// the reference client's GPIB.gpib_library class attribute.
type library struct {
	handle unsafe.Pointer

	ibdev  unsafe.Pointer
	ibwrt  unsafe.Pointer
	ibrd   unsafe.Pointer
	ibln   unsafe.Pointer
	ibsic  unsafe.Pointer
	ibclr  unsafe.Pointer
	ibloc  unsafe.Pointer
	ibrsp  unsafe.Pointer
	ibonl  unsafe.Pointer
	ibtmo  unsafe.Pointer
	ibcntl unsafe.Pointer
}

var (
	libOnce sync.Once
	lib     *library
	libErr  error
)

func loadLibrary() (*library, error) {
	libOnce.Do(func() {
		lib, libErr = dlopenLibrary()
	})
	return lib, libErr
}

func dlopenLibrary() (*library, error) {
	paths := candidateLibraries
	if env := os.Getenv("GPIB_LIBRARY"); env != "" {
		paths = []string{env}
	}

	var handle unsafe.Pointer
	var lastErr error
	for _, p := range paths {
		cpath := C.CString(p)
		handle = C.dlopen(cpath, C.RTLD_NOW)
		C.free(unsafe.Pointer(cpath))
		if handle != nil {
			break
		}
		lastErr = fmt.Errorf("dlopen %s: %s", p, C.GoString(C.dlerror()))
	}
	if handle == nil {
		return nil, fmt.Errorf("cannot load a GPIB library (tried %v): %w; set GPIB_LIBRARY to an explicit path", paths, lastErr)
	}

	l := &library{handle: handle}
	symbols := map[string]*unsafe.Pointer{
		"ibdev":  &l.ibdev,
		"ibwrt":  &l.ibwrt,
		"ibrd":   &l.ibrd,
		"ibln":   &l.ibln,
		"ibsic":  &l.ibsic,
		"ibclr":  &l.ibclr,
		"ibloc":  &l.ibloc,
		"ibrsp":  &l.ibrsp,
		"ibonl":  &l.ibonl,
		"ibtmo":  &l.ibtmo,
		"ibcntl": &l.ibcntl,
	}
	// Sort for deterministic error messages across runs.
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		csym := C.CString(name)
		sym := C.dlsym(handle, csym)
		C.free(unsafe.Pointer(csym))
		if sym == nil {
			return nil, fmt.Errorf("symbol %q not found in GPIB library: %s", name, C.GoString(C.dlerror()))
		}
		*symbols[name] = sym
	}
	return l, nil
}

func (l *library) ibdevCall(board, pad, sad, tmo, eot, eos int) int {
	return int(C.call_ibdev(l.ibdev, C.int(board), C.int(pad), C.int(sad), C.int(tmo), C.int(eot), C.int(eos)))
}

func (l *library) ibwrtCall(ud int, buf []byte) int {
	if len(buf) == 0 {
		return int(C.call_ibwrt(l.ibwrt, C.int(ud), nil, 0))
	}
	return int(C.call_ibwrt(l.ibwrt, C.int(ud), (*C.char)(unsafe.Pointer(&buf[0])), C.long(len(buf))))
}

func (l *library) ibrdCall(ud int, buf []byte) int {
	return int(C.call_ibrd(l.ibrd, C.int(ud), (*C.char)(unsafe.Pointer(&buf[0])), C.long(len(buf))))
}

func (l *library) iblnCall(ud, pad, sad int) (int, bool) {
	var found C.short
	sta := int(C.call_ibln(l.ibln, C.int(ud), C.int(pad), C.int(sad), &found))
	return sta, found != 0
}

func (l *library) ibsicCall(ud int) int { return int(C.call_ibsic(l.ibsic, C.int(ud))) }
func (l *library) ibclrCall(ud int) int { return int(C.call_ibclr(l.ibclr, C.int(ud))) }
func (l *library) iblocCall(ud int) int { return int(C.call_ibloc(l.ibloc, C.int(ud))) }

func (l *library) ibrspCall(ud int) (int, byte) {
	var spr C.char
	sta := int(C.call_ibrsp(l.ibrsp, C.int(ud), &spr))
	return sta, byte(spr)
}

func (l *library) ibonlCall(ud int, state bool) int {
	v := 0
	if state {
		v = 1
	}
	return int(C.call_ibonl(l.ibonl, C.int(ud), C.int(v)))
}

func (l *library) ibtmoCall(ud, value int) int {
	return int(C.call_ibtmo(l.ibtmo, C.int(ud), C.int(value)))
}

func (l *library) ibcntlCall() int64 { return int64(C.call_ibcntl(l.ibcntl)) }

const (
	staERR  = 0x8000
	staTIMO = 0x4000
	staEND  = 0x2000
)
