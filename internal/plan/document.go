package plan

import (
	"encoding/json"
	"errors"
	"strings"

	"backend-ridecal/internal/workout"
)

const documentVersion = "1.0.0"

type DocumentHeader struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	WorkoutTypeFamily   int    `json:"workout_type_family"`
	WorkoutTypeLocation int    `json:"workout_type_location"`
}

type DocumentTarget struct {
	Type string  `json:"type"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type DocumentInterval struct {
	Name             string           `json:"name"`
	ExitTriggerType  string           `json:"exit_trigger_type"`
	ExitTriggerValue int              `json:"exit_trigger_value"`
	IntensityType    string           `json:"intensity_type"`
	Targets          []DocumentTarget `json:"targets"`
}

// Document is the structured plan file the upload endpoint accepts.
type Document struct {
	Header    DocumentHeader     `json:"header"`
	Intervals []DocumentInterval `json:"intervals"`
}

var errEmptyWorkout = errors.New("plan: workout has no timed intervals")

// recoveryShare of FTP is the ceiling below which an interval counts as recovery.
const recoveryShare = 0.6

// BuildDocument encodes a planned workout for upload. Zero-length intervals are skipped.
func BuildDocument(w workout.PlannedWorkout, ftpWatts float64) ([]byte, error) {
	doc := Document{
		Header: DocumentHeader{
			Name:    w.Title,
			Version: documentVersion,
		},
	}
	for i, iv := range w.Intervals {
		if iv.DurationSeconds <= 0 {
			continue
		}
		doc.Intervals = append(doc.Intervals, DocumentInterval{
			Name:             iv.Name,
			ExitTriggerType:  "time",
			ExitTriggerValue: iv.DurationSeconds,
			IntensityType:    intensityType(iv, i, len(w.Intervals), ftpWatts),
			Targets: []DocumentTarget{{
				Type: "watts",
				Low:  iv.PowerMin,
				High: iv.PowerMax,
			}},
		})
	}
	if len(doc.Intervals) == 0 {
		return nil, errEmptyWorkout
	}
	return json.Marshal(doc)
}

func intensityType(iv workout.Interval, index, total int, ftpWatts float64) string {
	name := strings.ToLower(iv.Name)
	switch {
	case strings.Contains(name, "warm") || (index == 0 && total > 2 && belowRecovery(iv, ftpWatts)):
		return "wu"
	case strings.Contains(name, "cool") || (index == total-1 && total > 2 && belowRecovery(iv, ftpWatts)):
		return "cd"
	case strings.Contains(name, "recover") || strings.Contains(name, "rest") || belowRecovery(iv, ftpWatts):
		return "recover"
	default:
		return "active"
	}
}

func belowRecovery(iv workout.Interval, ftpWatts float64) bool {
	return ftpWatts > 0 && iv.PowerMax > 0 && iv.PowerMax < ftpWatts*recoveryShare
}
