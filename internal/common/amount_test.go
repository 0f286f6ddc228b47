package common

import "testing"

func TestFormatMinorAmount(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		50:     "0.50",
		10000:  "100.00",
		10050:  "100.50",
		123456: "1234.56",
		-10050: "-100.50",
	}
	for minor, want := range cases {
		if got := FormatMinorAmount(minor); got != want {
			t.Fatalf("FormatMinorAmount(%d) = %q, want %q", minor, got, want)
		}
	}
}

func TestParseMinorAmount(t *testing.T) {
	cases := map[string]int64{
		"100.00":  10000,
		"100":     10000,
		"100.5":   10050,
		"0.05":    5,
		"-100.50": -10050,
		" 12.34 ": 1234,
	}
	for value, want := range cases {
		got, err := ParseMinorAmount(value)
		if err != nil {
			t.Fatalf("ParseMinorAmount(%q): %v", value, err)
		}
		if got != want {
			t.Fatalf("ParseMinorAmount(%q) = %d, want %d", value, got, want)
		}
	}
}

func TestParseMinorAmountRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "abc", "1.2.3"} {
		if _, err := ParseMinorAmount(value); err == nil {
			t.Fatalf("ParseMinorAmount(%q) must fail", value)
		}
	}
}

func TestParseMinorAmountRejectsOverPrecision(t *testing.T) {
	for _, value := range []string{"1.234", "0.005", "100.000"} {
		if _, err := ParseMinorAmount(value); err == nil {
			t.Fatalf("ParseMinorAmount(%q) must reject sub-cent precision", value)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 10050, 999999} {
		got, err := ParseMinorAmount(FormatMinorAmount(minor))
		if err != nil {
			t.Fatalf("round trip %d: %v", minor, err)
		}
		if got != minor {
			t.Fatalf("round trip %d -> %d", minor, got)
		}
	}
}
