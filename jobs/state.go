package jobs

import "math"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Duration struct {
	Seconds float64 `json:"seconds"`
	Minutes float64 `json:"minutes"`
}

// NewDuration rounds both fields to two decimals.
func NewDuration(seconds float64) Duration {
	return Duration{
		Seconds: round2(seconds),
		Minutes: round2(seconds / 60),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// State is the lifecycle position of a job. It is implemented only by
// Processing, Completed and Failed.
type State interface {
	Status() Status
	isState()
}

type Processing struct{}

type Completed struct {
	Duration      Duration
	ThumbnailPath string
}

type Failed struct{}

func (Processing) Status() Status { return StatusProcessing }
func (Completed) Status() Status  { return StatusCompleted }
func (Failed) Status() Status     { return StatusFailed }

func (Processing) isState() {}
func (Completed) isState()  {}
func (Failed) isState()     {}
