package factory

import "encoding/json"

// PersistentClinicJSON returns the document for the database-backed clinic:
// a 17:00 same-day cutoff and one booking per phone number overall.
func PersistentClinicJSON(capacity int) string {
	pj := map[string]interface{}{
		"id":       "persistent-clinic",
		"name":     "Persistent clinic",
		"capacity": capacity,
		"window": map[string]interface{}{
			"mode":   "cutoff",
			"cutoff": "17:00",
		},
		"identity": map[string]interface{}{
			"pattern":    `^[0-9]{10}$`,
			"uniqueness": "global",
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// WalkInClinicJSON returns the document for the evening walk-in clinic:
// same-day bookings only between 17:00 and 20:00, doctor and time slot
// required on every request. Only (date, token) is unique, so one phone
// may hold several tokens for a family.
func WalkInClinicJSON(capacity int, defaultProvider string) string {
	pj := map[string]interface{}{
		"id":       "walk-in-clinic",
		"name":     "Evening walk-in clinic",
		"capacity": capacity,
		"window": map[string]interface{}{
			"mode":  "fixed",
			"open":  "17:00",
			"close": "20:00",
		},
		"identity": map[string]interface{}{
			"pattern":    `^[0-9]{10}$`,
			"uniqueness": "none",
		},
		"slot": map[string]interface{}{
			"required":         true,
			"default_provider": defaultProvider,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// Preset returns the named preset document with its default capacity.
func Preset(name string) (string, bool) {
	switch name {
	case "persistent":
		return PersistentClinicJSON(25), true
	case "walk-in":
		return WalkInClinicJSON(30, ""), true
	}
	return "", false
}
