package kubernetes

import (
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/wasptenant/host/internal/core"
)

// wrapK8sError converts a client failure into a
// core.DomainError{Code: ErrorCodeKubeTransport}. When err carries an
// apierrors.APIStatus (as errors from the dynamic client's Watch can),
// the Status message becomes the DomainError's message; the code is
// ErrorCodeKubeTransport either way. gateway.go Do never reaches this
// for a non-2xx response: there the Status body is returned to the
// guest as a normal HTTPResponse.
func wrapK8sError(err error) error {
	if err == nil {
		return nil
	}
	var apiStatus apierrors.APIStatus
	if errors.As(err, &apiStatus) {
		return &core.DomainError{
			Code:    core.ErrorCodeKubeTransport,
			Message: apiStatus.Status().Message,
			Cause:   err,
		}
	}
	return &core.DomainError{
		Code:    core.ErrorCodeKubeTransport,
		Message: "kubernetes request failed",
		Cause:   err,
	}
}
