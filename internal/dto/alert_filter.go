// AlertFilter describes user-provided filters to narrow the alert list.
package dto

import "time"

type AlertFilter struct {
	Camera        string
	ThreatType    string
	Since         time.Time
	Until         time.Time
	MinConfidence float64 // percent
	Limit         int
	Offset        int
}
