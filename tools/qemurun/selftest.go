package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// testCmd implements subcommands.Command for the "test" command.
type testCmd struct {
	mode    string
	kernel  string
	timeout duration
}

// Name implements subcommands.Command.Name.
func (*testCmd) Name() string {
	return "test"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*testCmd) Synopsis() string {
	return "boot the kernel in self-test mode and check the results"
}

// Usage implements subcommands.Command.Usage.
func (*testCmd) Usage() string {
	return `test [flags] - boot the kernel with selftest=<mode> and report the results.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *testCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.mode, "mode", "basic", "self-test mode: basic or stackoverflow.")
	f.StringVar(&t.kernel, "kernel", "", "kernel image; overrides the config file.")
	f.Var(&t.timeout, "timeout", "time to wait for the guest to exit; overrides the config file.")
}

// Execute implements subcommands.Command.Execute.
func (t *testCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if t.mode != "basic" && t.mode != "stackoverflow" {
		logrus.Errorf("unknown self-test mode %q", t.mode)
		return subcommands.ExitUsageError
	}

	conf := args[0].(*config)
	if t.kernel != "" {
		conf.Kernel = t.kernel
	}
	if t.timeout.Duration != 0 {
		conf.Timeout = t.timeout
	}

	dir, err := os.MkdirTemp("", "qemurun")
	if err != nil {
		logrus.WithError(err).Error("creating work directory")
		return subcommands.ExitFailure
	}
	defer os.RemoveAll(dir)

	image, err := buildImage(ctx, conf, "console=serial selftest="+t.mode, dir)
	if err != nil {
		logrus.WithError(err).Error("building boot image")
		return subcommands.ExitFailure
	}

	passed, err := runSelfTests(ctx, newRunner(conf), image, os.Stdout)
	if err != nil {
		logrus.WithError(err).Error("self-test run failed")
		return subcommands.ExitFailure
	}
	if !passed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// runSelfTests boots image, prints a summary of the results to w and reports
// whether the guest exited with the success code and every test passed.
func runSelfTests(ctx context.Context, r *runner, image string, w io.Writer) (bool, error) {
	var serial bytes.Buffer
	out, closeLog, err := serialOutput(r.conf, &serial)
	if err != nil {
		return false, err
	}
	defer closeLog()

	status, err := r.run(ctx, image, r.conf.Timeout.Duration, out)
	if err != nil {
		return false, err
	}

	log, err := parseSerialLog(&serial)
	if err != nil {
		return false, err
	}

	for _, res := range log.Results {
		if res.Passed {
			fmt.Fprintf(w, "PASS %s\n", res.Name)
			continue
		}
		fmt.Fprintf(w, "FAIL %s: %s\n", res.Name, res.Message)
	}
	printFaultReports(w, log.Faults)

	outcome := outcomeFor(status)
	logrus.WithFields(logrus.Fields{
		"status":  status,
		"outcome": outcome,
		"tests":   len(log.Results),
		"faults":  len(log.Faults),
	}).Info("self-test run complete")

	return outcome == outcomeSuccess && log.Passed(), nil
}
