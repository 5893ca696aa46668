// Package capability wraps the external services that the classifier consults:
// the gate validator, and the vision-language model that tells people from vehicles.
// None of these services are allowed to fail a classification. Every failure becomes
// an Unavailable outcome, which the classifier treats exactly like NoEvidence.
package capability

// Outcome is the result of asking an external service for evidence
type Outcome int

const (
	NoEvidence  Outcome = iota // The service answered, and the answer was "no"
	Evidence                   // The service answered "yes"
	Unavailable                // The service could not be reached, or its answer made no sense
)

func (o Outcome) String() string {
	switch o {
	case NoEvidence:
		return "no-evidence"
	case Evidence:
		return "evidence"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Returns true only for Evidence
func (o Outcome) IsEvidence() bool {
	return o == Evidence
}
