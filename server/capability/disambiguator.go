package capability

import (
	"context"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// The instruction given to the vision-language model, along with the crop
const VehicleInstruction = "Return 0 for person, 1 for vehicle."

const DefaultDisambiguationTimeout = 20 * time.Second

// Disambiguator asks a vision-language model a short question about an image.
// The reply is returned verbatim.
type Disambiguator interface {
	Classify(ctx context.Context, jpeg []byte, instruction string) (string, error)
}

// IsVehicle asks the disambiguator whether the crop shows a vehicle.
// Only a clear "1" (or "vehicle") is Evidence. A failure of the service, or a timeout, is Unavailable.
// Anything else is NoEvidence.
func IsVehicle(ctx context.Context, log logs.Log, d Disambiguator, jpeg []byte, timeout time.Duration) Outcome {
	if d == nil {
		return Unavailable
	}
	if timeout <= 0 {
		timeout = DefaultDisambiguationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reply, err := d.Classify(ctx, jpeg, VehicleInstruction)
	if err != nil {
		log.Warnf("Disambiguation failed: %v", err)
		return Unavailable
	}
	switch normalizeVerdict(reply) {
	case "1", "vehicle":
		return Evidence
	case "0", "person":
		return NoEvidence
	}
	log.Infof("Ambiguous disambiguation reply '%v'", reply)
	return NoEvidence
}

func normalizeVerdict(reply string) string {
	return strings.ToLower(strings.Trim(reply, " \t\r\n.\"'`"))
}
