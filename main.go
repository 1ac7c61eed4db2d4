package main

import (
	"fmt"
	"os"

	"github.com/temirov/procexec/cmd/cli"
)

const (
	exitErrorTemplateConstant = "%v\n"
)

// main executes the procexec command-line application and exits with the code of its outcome.
func main() {
	executionError := cli.Execute()
	if executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
	}
	os.Exit(cli.ExitCode(executionError))
}
