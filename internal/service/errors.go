package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMisconfigured is returned when the target host or proxy base URL is
	// missing. The upstream is never contacted.
	ErrMisconfigured = errors.New("target host or proxy base URL is missing")

	// ErrUpstreamTransport wraps connect, DNS, TLS, timeout and cancellation
	// failures while talking to the upstream.
	ErrUpstreamTransport = errors.New("upstream transport failure")

	// ErrMalformedResponse is returned when the upstream reply cannot be
	// split into status, headers and a complete body.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrResponseTooLarge is returned when the upstream body exceeds the
	// configured buffer limit.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// Stage is a step of the per-request pipeline.
type Stage int

// Pipeline stages in execution order.
const (
	StageIdle Stage = iota
	StageCaptured
	StageForwarding
	StageForwarded
	StageParsed
	StageRewritten
	StageEmitted
)

var stageNames = [...]string{
	StageIdle:       "idle",
	StageCaptured:   "captured",
	StageForwarding: "forwarding",
	StageForwarded:  "forwarded",
	StageParsed:     "parsed",
	StageRewritten:  "rewritten",
	StageEmitted:    "emitted",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// PipelineError records the stage a request was in when it failed. The
// request is terminal; nothing is retried.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func fail(stage Stage, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}

// FailedStage returns the stage recorded in err, or StageIdle when err does
// not carry one.
func FailedStage(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return StageIdle
}
