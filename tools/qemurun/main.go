// Command qemurun boots the kernel under QEMU, drives the boot self-tests and
// inspects the serial output and memory maps the kernel works with.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "", "path to the TOML runner configuration file.")
	debug      = flag.Bool("debug", false, "enable debug logging.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(testCmd), "")
	subcommands.Register(new(memmapCmd), "")
	subcommands.Register(new(reportCmd), "")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
