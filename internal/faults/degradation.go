package faults

// DegradationLevel grades how many market data feeds survived one
// context build.
type DegradationLevel string

const (
	DegradationNone   DegradationLevel = "NONE"
	DegradationMinor  DegradationLevel = "MINOR"
	DegradationMajor  DegradationLevel = "MAJOR"
	DegradationSevere DegradationLevel = "SEVERE"
)

// Degradation carries the conservative-bias parameters derived from
// feed availability. ConfidencePenalty is in percentage points;
// SizeReduction is a fraction of the size multiplier to shed.
type Degradation struct {
	Level             DegradationLevel `json:"level"`
	AvailableFeeds    int              `json:"available_feeds"`
	TotalFeeds        int              `json:"total_feeds"`
	ConfidencePenalty float64          `json:"confidence_penalty"`
	SizeReduction     float64          `json:"size_reduction"`
}

// DegradationFor computes the degradation grade for a feed ratio.
// Full availability is NONE; above 2/3 is MINOR; above 1/3 is MAJOR;
// the rest is SEVERE.
func DegradationFor(availableFeeds, totalFeeds int) Degradation {
	d := Degradation{AvailableFeeds: availableFeeds, TotalFeeds: totalFeeds}
	ratio := 0.0
	if totalFeeds > 0 {
		ratio = float64(availableFeeds) / float64(totalFeeds)
	}
	switch {
	case ratio >= 1.0:
		d.Level = DegradationNone
	case ratio > 0.67:
		d.Level, d.ConfidencePenalty, d.SizeReduction = DegradationMinor, 5, 0.06
	case ratio > 0.33:
		d.Level, d.ConfidencePenalty, d.SizeReduction = DegradationMajor, 15, 0.15
	default:
		d.Level, d.ConfidencePenalty, d.SizeReduction = DegradationSevere, 30, 0.24
	}
	return d
}
