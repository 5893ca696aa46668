package classify

import (
	"strings"

	"github.com/cyclopcam/railalert/pkg/nn"
)

// Class is what the primary stage cares about, independent of how any particular model names it
type Class int

const (
	ClassOther         Class = iota // Anything we ignore
	ClassLegalOccupier              // A vehicle that may legally occupy the crossing, but might also be a person
	ClassTrain
	ClassTruck
)

func (c Class) String() string {
	switch c {
	case ClassLegalOccupier:
		return "legal_occupier_vehicle"
	case ClassTrain:
		return "train"
	case ClassTruck:
		return "truck"
	}
	return "other"
}

// LabelTable translates the labels of one model into our classes.
// Keys are lowercase. Labels that are not in the table are ClassOther.
type LabelTable map[string]Class

// The label names of our purpose-trained crossing model
func DefaultPrimaryLabels() LabelTable {
	return LabelTable{
		"legal_occupier_vehicle": ClassLegalOccupier,
		"train":                  ClassTrain,
		"truck":                  ClassTruck,
	}
}

func (t LabelTable) Translate(label string) Class {
	return t[strings.ToLower(strings.TrimSpace(label))]
}

// Translate every class of the model, so that lookups during classification are by index
func (t LabelTable) ForModel(config *nn.ModelConfig) []Class {
	classes := make([]Class, len(config.Classes))
	for i, label := range config.Classes {
		classes[i] = t.Translate(label)
	}
	return classes
}

// Missing returns the classes that no label in the model maps to.
// A model that can't produce a train is probably the wrong model.
func (t LabelTable) Missing(config *nn.ModelConfig) []Class {
	have := map[Class]bool{}
	for _, c := range t.ForModel(config) {
		have[c] = true
	}
	missing := []Class{}
	for _, c := range []Class{ClassLegalOccupier, ClassTrain, ClassTruck} {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
