package classify

import "time"

// Memo holds the evidence counters of one image
type Memo struct {
	HorizontalGate       int // Gate stage
	LegalOccupierVehicle int // Primary stage
	Train                int // Primary stage
	Truck                int // Primary stage
}

// PrimaryEvidence is true if any of the primary stage's counters is nonzero
func (m Memo) PrimaryEvidence() bool {
	return m.LegalOccupierVehicle > 0 || m.Train > 0 || m.Truck > 0
}

// Record is the classification of one image. It is never modified after it is created.
type Record struct {
	Image                string    `json:"Image"`
	Location             string    `json:"location"`
	HorizontalGate       bool      `json:"horizontal_gate"`
	LegalOccupierVehicle bool      `json:"legal_occupier_vehicle"`
	Train                bool      `json:"train"`
	Truck                bool      `json:"truck"`
	AccurateAlert        bool      `json:"accurate_alert"`
	AccurateClass        bool      `json:"accurate_class"`
	Classification       string    `json:"classification"`
	HeaderText           string    `json:"header_text,omitempty"`
	ProcessedAt          time.Time `json:"processed_at"`
}

// Aggregate combines the stage outputs into a record.
// accurate_class depends only on the primary stage. accurate_alert is accurate_class, or a non-empty fallback summary.
func Aggregate(imageID, locationKey string, memo Memo, classification string) Record {
	accurateClass := memo.PrimaryEvidence()
	return Record{
		Image:                imageID,
		Location:             locationKey,
		HorizontalGate:       memo.HorizontalGate > 0,
		LegalOccupierVehicle: memo.LegalOccupierVehicle > 0,
		Train:                memo.Train > 0,
		Truck:                memo.Truck > 0,
		AccurateClass:        accurateClass,
		AccurateAlert:        accurateClass || classification != "",
		Classification:       classification,
	}
}
