package safetensors

import "github.com/docker/go-units"

// FormatParameters converts a parameter count to a human-readable form such
// as "361.82 M" or "1.50 B" (base 1000, B = billion).
func FormatParameters(params int64) string {
	return units.CustomSize("%.2f%s", float64(params), 1000.0, []string{"", " K", " M", " B", " T"})
}

// FormatSize converts a byte count to a human-readable form.
func FormatSize(bytes float64) string {
	return units.HumanSizeWithPrecision(bytes, 2)
}
