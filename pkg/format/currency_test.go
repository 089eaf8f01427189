package format

import "testing"

func TestCurrency(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		want   string
	}{
		{"zero", 0, "$0.00"},
		{"small", 5.1, "$5.10"},
		{"thousands", 1234.567, "$1,234.57"},
		{"millions", 1234567.8, "$1,234,567.80"},
		{"negative", -1234.5, "-$1,234.50"},
		{"negative rounds to zero", -0.001, "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Currency(tt.amount); got != tt.want {
				t.Errorf("Currency(%v) = %q, want %q", tt.amount, got, tt.want)
			}
		})
	}
}

func TestNumericCurrency(t *testing.T) {
	if got := NumericCurrency(-9876.5); got != "-9,876.50" {
		t.Errorf("NumericCurrency(-9876.5) = %q", got)
	}
	if got := NumericCurrency(12); got != "12.00" {
		t.Errorf("NumericCurrency(12) = %q", got)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.234, "1.23%"},
		{0, "0.00%"},
		{-0.001, "0.00%"},
		{-4.5, "-4.50%"},
	}
	for _, tt := range tests {
		if got := Percent(tt.in); got != tt.want {
			t.Errorf("Percent(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FractionPercent(0.0151); got != "1.51%" {
		t.Errorf("FractionPercent(0.0151) = %q", got)
	}
}

func TestLossPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.51234, "0.5123%"},
		{0.00004, "0.0000%"},
		{-0.00001, "0.0000%"},
		{12, "12.0000%"},
		{-1.23456, "-1.2346%"},
	}
	for _, tt := range tests {
		if got := LossPercent(tt.in); got != tt.want {
			t.Errorf("LossPercent(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
