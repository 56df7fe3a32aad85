package pipeline

import "errors"

var (
	ErrPlanner         = errors.New("planner LLM error")
	ErrSynthesis       = errors.New("synthesis LLM error")
	ErrGuidelines      = errors.New("guidelines LLM error")
	ErrRepair          = errors.New("repair LLM error")
	ErrClassification  = errors.New("classification LLM error")
	ErrRetrieval       = errors.New("schema retrieval error")
	ErrUnknownSession  = errors.New("unknown session")
	ErrPipelineTimeout = errors.New("pipeline timeout")
)
