package recorddb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/railalert/server/classify"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Record is one classified image
type Record struct {
	BaseModel
	Image                string      `json:"image"`
	Location             string      `json:"location"`
	HorizontalGate       bool        `json:"horizontalGate"`
	LegalOccupierVehicle bool        `json:"legalOccupierVehicle"`
	Train                bool        `json:"train"`
	Truck                bool        `json:"truck"`
	AccurateAlert        bool        `json:"accurateAlert"`
	AccurateClass        bool        `json:"accurateClass"`
	Classification       string      `json:"classification"`
	HeaderText           string      `json:"headerText"`
	ProcessedAt          dbh.IntTime `json:"processedAt"`
}

func (Record) TableName() string {
	return "record"
}

func FromClassify(r classify.Record) Record {
	return Record{
		Image:                r.Image,
		Location:             r.Location,
		HorizontalGate:       r.HorizontalGate,
		LegalOccupierVehicle: r.LegalOccupierVehicle,
		Train:                r.Train,
		Truck:                r.Truck,
		AccurateAlert:        r.AccurateAlert,
		AccurateClass:        r.AccurateClass,
		Classification:       r.Classification,
		HeaderText:           r.HeaderText,
		ProcessedAt:          dbh.MakeIntTime(r.ProcessedAt),
	}
}

func (r *Record) ToClassify() classify.Record {
	return classify.Record{
		Image:                r.Image,
		Location:             r.Location,
		HorizontalGate:       r.HorizontalGate,
		LegalOccupierVehicle: r.LegalOccupierVehicle,
		Train:                r.Train,
		Truck:                r.Truck,
		AccurateAlert:        r.AccurateAlert,
		AccurateClass:        r.AccurateClass,
		Classification:       r.Classification,
		HeaderText:           r.HeaderText,
		ProcessedAt:          r.ProcessedAt.Get(),
	}
}
