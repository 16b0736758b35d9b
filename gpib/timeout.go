package gpib

import (
	"sort"
	"time"
)

// timeouts is the 18-value discrete timeout enum shared by every GPIB
// board/device descriptor (NI-488.2 T10us..T1000s plus TNONE), in seconds.
// Index is the value passed to ibtmo/ibconfig(IbcTMO, ...).
var timeouts = [18]float64{
	0,
	10e-6, 30e-6, 100e-6, 300e-6,
	1e-3, 3e-3, 10e-3, 30e-3, 100e-3, 300e-3,
	1.0, 3.0, 10.0, 30.0, 100.0, 300.0, 1000.0,
}

// timeoutIndex maps a requested timeout to the smallest enum index whose
// duration is >= d, matching the reference client's exact-match-or-
// bisect_right behaviour. A duration longer than the largest enum value
// clamps to the last index (TNONE's opposite: the longest finite wait).
func timeoutIndex(d time.Duration) int {
	secs := d.Seconds()
	for i, t := range timeouts {
		if t == secs {
			return i
		}
	}
	i := sort.Search(len(timeouts), func(i int) bool { return timeouts[i] >= secs })
	if i >= len(timeouts) {
		return len(timeouts) - 1
	}
	return i
}
