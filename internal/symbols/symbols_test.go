package symbols

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Symbol
		wantErr bool
	}{
		{"BTCUSDT", BTCUSDT, false},
		{"btcusdt", BTCUSDT, false},
		{" ethusdt ", ETHUSDT, false},
		{"BNBUSDT", BNBUSDT, false},
		{"FOOBAR", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLower(t *testing.T) {
	if got := BTCUSDT.Lower(); got != "btcusdt" {
		t.Errorf("Lower() = %q, want %q", got, "btcusdt")
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("All() returned no symbols")
	}
	for _, s := range all {
		if !IsKnown(s) {
			t.Errorf("All() returned unknown symbol %q", s)
		}
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Errorf("All() not sorted: %q before %q", all[i-1], all[i])
		}
	}
}
