package risk

// Level buckets a score in [0,1].
func Level(score float64) string {
	switch {
	case score >= 0.8:
		return "critical"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// Recommendations returns the safety advice for a score.
func Recommendations(score float64) []string {
	switch Level(score) {
	case "critical":
		return []string{
			"Consider postponing travel if possible",
			"Share your location with emergency contacts",
			"Use main roads and avoid isolated areas",
			"Travel in groups if possible",
			"Keep emergency numbers ready",
		}
	case "high":
		return []string{
			"Stay alert and aware of surroundings",
			"Share your location with contacts",
			"Avoid isolated areas",
			"Keep phone charged and accessible",
		}
	case "medium":
		return []string{
			"Exercise normal caution",
			"Keep emergency contacts updated",
			"Stay on well-lit paths",
		}
	default:
		return []string{
			"Safe travel conditions",
			"Maintain basic safety awareness",
		}
	}
}
