package helper

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

//Log is the shared logger for the node. All packages log through it so that
//the daemon can change the level or formatter in one place.
var Log = logrus.New()

func getErrorString(errorName, where, message string) string {
	return fmt.Sprintf("Error in %s %s: %s\n", where, errorName, message)
}

func HandleCrashingErr(err error) {
	if err != nil {
		Log.Fatal(err)
	}
}

func LogError(err error) {
	if err != nil {
		Log.Warn(err)
	}
}

//IllegalArgumentError is an error that should be thrown when illegal arguments are passed to a function/program.
type IllegalArgumentError struct {
	ErrorMessage string
	Where        string
}

func (e *IllegalArgumentError) Error() string {
	return getErrorString("IllegalArgumentError", e.Where, e.ErrorMessage)
}
