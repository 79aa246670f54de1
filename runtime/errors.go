package runtime

import (
	"errors"
	"fmt"
)

// ErrNotDeployed is returned by message entry points when no execution graph
// is active.
var ErrNotDeployed = errors.New("no graph is deployed")

// DeploymentError reports a failed build or deploy. The runtime remains
// undeployed when it is returned.
type DeploymentError struct {
	Stage string
	Err   error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed at %s: %v", e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

func deploymentErrorf(stage string, err error) *DeploymentError {
	return &DeploymentError{Stage: stage, Err: err}
}
