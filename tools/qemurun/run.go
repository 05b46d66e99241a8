package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	kernel string
	memory string
	log    string
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "boot the kernel and stream its serial output"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags] [boot options...] - boot the kernel under QEMU.

Boot options (e.g. console=serial pagefault=stackguard) are passed on the
kernel command line.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.kernel, "kernel", "", "kernel image; overrides the config file.")
	f.StringVar(&r.memory, "m", "", "guest memory size; overrides the config file.")
	f.StringVar(&r.log, "serial-log", "", "file that receives a copy of the serial output; overrides the config file.")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	conf := args[0].(*config)
	r.apply(conf)

	dir, err := os.MkdirTemp("", "qemurun")
	if err != nil {
		logrus.WithError(err).Error("creating work directory")
		return subcommands.ExitFailure
	}
	defer os.RemoveAll(dir)

	image, err := buildImage(ctx, conf, strings.Join(f.Args(), " "), dir)
	if err != nil {
		logrus.WithError(err).Error("building boot image")
		return subcommands.ExitFailure
	}

	out, closeLog, err := serialOutput(conf, os.Stdout)
	if err != nil {
		logrus.WithError(err).Error("opening serial log")
		return subcommands.ExitFailure
	}
	defer closeLog()

	status, err := newRunner(conf).run(ctx, image, 0, out)
	if err != nil {
		logrus.WithError(err).Error("running QEMU")
		return subcommands.ExitFailure
	}

	logrus.WithFields(logrus.Fields{"status": status, "outcome": outcomeFor(status)}).Info("QEMU exited")
	if outcomeFor(status) == outcomeFailure {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (r *runCmd) apply(c *config) {
	if r.kernel != "" {
		c.Kernel = r.kernel
	}
	if r.memory != "" {
		c.Memory = r.memory
	}
	if r.log != "" {
		c.SerialLog = r.log
	}
}

// serialOutput returns a writer that copies the serial output to w and, if
// configured, to the serial log file.
func serialOutput(c *config, w io.Writer) (io.Writer, func(), error) {
	if c.SerialLog == "" {
		return w, func() {}, nil
	}

	f, err := os.Create(c.SerialLog)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(w, f), func() { f.Close() }, nil
}
