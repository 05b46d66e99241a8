package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// reportCmd implements subcommands.Command for the "report" command.
type reportCmd struct{}

// Name implements subcommands.Command.Name.
func (*reportCmd) Name() string {
	return "report"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*reportCmd) Synopsis() string {
	return "print the fault reports found in a saved serial log"
}

// Usage implements subcommands.Command.Usage.
func (*reportCmd) Usage() string {
	return `report <serial log> - print the fault reports and self-test results.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*reportCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*reportCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	in, err := os.Open(f.Arg(0))
	if err != nil {
		logrus.WithError(err).Error("opening serial log")
		return subcommands.ExitFailure
	}
	defer in.Close()

	log, err := parseSerialLog(in)
	if err != nil {
		logrus.WithError(err).Error("parsing serial log")
		return subcommands.ExitFailure
	}

	logrus.WithFields(logrus.Fields{"tests": len(log.Results), "faults": len(log.Faults)}).Debug("parsed serial log")
	printFaultReports(os.Stdout, log.Faults)
	return subcommands.ExitSuccess
}
