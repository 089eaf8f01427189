// Package format renders monetary and percentage values for reports.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Currency returns a currency string with a dollar sign and thousands separators (e.g., "-$1,234.56").
func Currency(amount float64) string {
	formatted := formatPositiveCurrency(math.Abs(amount))
	if amount < 0 && formatted != "0.00" {
		return "-$" + formatted
	}
	return "$" + formatted
}

// NumericCurrency returns a currency string without a currency symbol but with separators (e.g., "-1,234.56").
func NumericCurrency(amount float64) string {
	formatted := formatPositiveCurrency(math.Abs(amount))
	if amount < 0 && formatted != "0.00" {
		return "-" + formatted
	}
	return formatted
}

// Percent renders a value already expressed in percent, e.g. 1.234 -> "1.23%".
func Percent(pct float64) string {
	return percent(pct, 2)
}

// LossPercent renders a portfolio loss already expressed in percent with
// four decimals, e.g. 0.51234 -> "0.5123%".
func LossPercent(pct float64) string {
	return percent(pct, 4)
}

func percent(pct float64, decimals int) string {
	s := strconv.FormatFloat(pct, 'f', decimals, 64)
	if strings.Trim(s, "-0.") == "" {
		s = strings.TrimPrefix(s, "-")
	}
	return s + "%"
}

// FractionPercent renders a fraction as percent, e.g. 0.0151 -> "1.51%".
func FractionPercent(fraction float64) string {
	return Percent(fraction * 100)
}

func formatPositiveCurrency(value float64) string {
	formatted := fmt.Sprintf("%.2f", value)
	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
