package transfer

import "testing"

func TestThrottle_Sequence(t *testing.T) {
	th := &Throttle{}

	in := []int{1, 5, 12, 19, 25, 37, 99, 100, 100}
	var emitted []int
	for _, pct := range in {
		if v, ok := th.Report(pct); ok {
			emitted = append(emitted, v)
		}
	}

	want := []int{12, 25, 37, 99, 100}
	if len(emitted) != len(want) {
		t.Fatalf("emitted %v, want %v", emitted, want)
	}
	for i := range want {
		if emitted[i] != want[i] {
			t.Fatalf("emitted %v, want %v", emitted, want)
		}
	}
}

func TestThrottle_FinalExactlyOnce(t *testing.T) {
	th := &Throttle{}

	finals := 0
	for i := 0; i < 5; i++ {
		if v, ok := th.Report(100); ok {
			if v != 100 {
				t.Errorf("Report(100) emitted %d", v)
			}
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("final 100 emitted %d times, want 1", finals)
	}

	// Nothing passes after the final.
	if _, ok := th.Report(50); ok {
		t.Error("progress emitted after the final 100")
	}
}

func TestThrottle_MinimumGaps(t *testing.T) {
	th := &Throttle{}

	var emitted []int
	for pct := 0; pct <= 100; pct++ {
		if v, ok := th.Report(pct); ok {
			emitted = append(emitted, v)
		}
	}

	for i := 1; i < len(emitted); i++ {
		gap := emitted[i] - emitted[i-1]
		if gap < 10 && emitted[i] != 100 {
			t.Errorf("gap %d between %d and %d", gap, emitted[i-1], emitted[i])
		}
		if gap <= 0 {
			t.Errorf("sequence not increasing: %v", emitted)
		}
	}
	if emitted[len(emitted)-1] != 100 {
		t.Errorf("sequence does not end at 100: %v", emitted)
	}
}

func TestThrottle_Clamps(t *testing.T) {
	th := &Throttle{}

	if v, ok := th.Report(250); !ok || v != 100 {
		t.Errorf("Report(250) = %d, %v; want 100, true", v, ok)
	}

	th2 := &Throttle{}
	if v, _ := th2.Report(-5); v != 0 {
		t.Errorf("Report(-5) clamped to %d, want 0", v)
	}
}
