package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an Event.
type Level string

// Supported levels.
const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Stage denotes the pipeline milestone an Event reports.
type Stage string

// Supported stages, in the order a run normally produces them.
const (
	StageRunStart        Stage = "RUN_START"
	StageModeSelected    Stage = "MODE_SELECTED"
	StageModeFallback    Stage = "MODE_FALLBACK"
	StageSearchStart     Stage = "SEARCH_START"
	StageSearchAlternate Stage = "SEARCH_ALTERNATE"
	StageSearchDone      Stage = "SEARCH_DONE"
	StageSearchFailed    Stage = "SEARCH_FAILED"
	StageDetailStart     Stage = "DETAIL_START"
	StageDetailDone      Stage = "DETAIL_DONE"
	StageDetailFailed    Stage = "DETAIL_FAILED"
	StageFieldEmpty      Stage = "FIELD_EMPTY"
	StageStoreFailed     Stage = "STORE_FAILED"
	StagePublishFailed   Stage = "PUBLISH_FAILED"
	StageRunDone         Stage = "RUN_DONE"
)

// Event is one diagnostic line of a run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// Seq orders events within a run, starting at 1.
	Seq int64
	// TS is the UTC timestamp recorded by the emitter.
	TS      time.Time
	Level   Level
	Stage   Stage
	Message string
	// URL is the page the event concerns, if any.
	URL string
	// Field names the record field for FIELD_EMPTY events.
	Field string
	// Mode is the fetch mode in effect.
	Mode string
	// Count carries candidate or record counts.
	Count int
	// Dur captures run or fetch latency.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("unknown level %q", e.Level)
	}
	switch e.Stage {
	case StageRunStart, StageModeSelected, StageModeFallback,
		StageSearchStart, StageSearchAlternate, StageSearchDone, StageSearchFailed,
		StageDetailStart, StageDetailDone, StageDetailFailed,
		StageStoreFailed, StagePublishFailed, StageRunDone:
	case StageFieldEmpty:
		if e.Field == "" {
			return errors.New("field empty event requires field")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
