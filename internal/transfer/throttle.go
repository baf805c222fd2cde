package transfer

// Throttle gates progress reporting for one upload: advances of at least
// ten points pass, everything else is dropped, and the terminal 100 passes
// exactly once. Zero value ready to use, not safe for concurrent use.
type Throttle struct {
	last      int
	sentFinal bool
}

// Report clamps pct to 0..100 and reports whether the caller should emit
// a progress update for it.
func (t *Throttle) Report(pct int) (int, bool) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	if pct == 100 {
		if t.sentFinal {
			return 100, false
		}
		t.sentFinal = true
		t.last = 100
		return 100, true
	}

	if t.sentFinal {
		return pct, false
	}
	if pct-t.last >= 10 {
		t.last = pct
		return pct, true
	}
	return pct, false
}
