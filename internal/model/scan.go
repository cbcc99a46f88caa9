package model

// Outcome classifies the result of processing one scanned payload.
type Outcome string

const (
	OutcomeMarked           Outcome = "MARKED"
	OutcomeAlreadyMarked    Outcome = "ALREADY_MARKED"
	OutcomeNotFound         Outcome = "NOT_FOUND"
	OutcomeMalformedPayload Outcome = "MALFORMED_PAYLOAD"
	OutcomeStoreError       Outcome = "STORE_ERROR"
)

// Category is the display class the presentation layer uses for an outcome.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
)

// Category maps every outcome to exactly one display class.
func (o Outcome) Category() Category {
	switch o {
	case OutcomeMarked:
		return CategorySuccess
	case OutcomeAlreadyMarked:
		return CategoryInfo
	case OutcomeNotFound, OutcomeMalformedPayload:
		return CategoryWarning
	default:
		return CategoryError
	}
}

// ScanResult is produced for every decoded payload and discarded after the
// response is rendered.
type ScanResult struct {
	ScanID     string   `json:"scanId"`
	Payload    string   `json:"payload"`
	AttendeeID string   `json:"attendeeId,omitempty"`
	Name       string   `json:"name,omitempty"`
	Outcome    Outcome  `json:"outcome"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	// Error carries the store failure text verbatim for STORE_ERROR outcomes.
	Error string `json:"error,omitempty"`
}

// Statistics is the attendance aggregate shown on the statistics page.
type Statistics struct {
	Total       int `json:"total"`
	Attended    int `json:"attended"`
	NotAttended int `json:"notAttended"`
}

// Slice is one wedge of the attendance breakdown chart.
type Slice struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
	// Caption is the wedge text, e.g. "66.7%\n(2)".
	Caption string `json:"caption"`
}
