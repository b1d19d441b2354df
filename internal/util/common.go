package util

import (
	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// ContinueOrFatal exits the process when err is set, logging its error code.
func ContinueOrFatal(err error) {
	if err == nil {
		return
	}

	logrus.WithError(err).
		WithField("code", perrors.GetCode(err)).
		Fatal("unrecoverable error")
}
