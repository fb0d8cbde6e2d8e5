package dubbing

import (
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

var (
	ErrSynthesisFailed = errors.New("synthesis failed")
	ErrCancelled       = errors.New("dubbing cancelled")
	ErrInvalidRequest  = errors.New("invalid dubbing request")
	ErrInvalidConfig   = errors.New("invalid dubbing configuration")
	ErrJobNotFound     = errors.New("dubbing job not found")
)

// Stage names the orchestrator step a job reached.
type Stage string

const (
	StageEstimating   Stage = "estimating"
	StageCreditCheck  Stage = "credit_check"
	StageReserved     Stage = "reserved"
	StageSynthesizing Stage = "synthesizing"
	StageFinalized    Stage = "finalized"
)

// JobError reports the stage at which a job stopped.
type JobError struct {
	Stage Stage
	JobID string
	Err   error
}

func (jobError *JobError) Error() string {
	if jobError.JobID == "" {
		return fmt.Sprintf("dubbing.%s: %v", jobError.Stage, jobError.Err)
	}
	return fmt.Sprintf("dubbing.%s.%s: %v", jobError.Stage, jobError.JobID, jobError.Err)
}

func (jobError *JobError) Unwrap() error {
	return jobError.Err
}

// Charged reports whether credits were deducted before the job stopped.
func (jobError *JobError) Charged() bool {
	return jobError.Stage == StageSynthesizing || jobError.Stage == StageFinalized
}

// InsufficientCredit extracts the shortfall from an error chain.
func InsufficientCredit(err error) (ledger.InsufficientBalanceError, bool) {
	var insufficient ledger.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		return insufficient, true
	}
	return ledger.InsufficientBalanceError{}, false
}
