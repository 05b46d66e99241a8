// Command redirects patches the kernel image so that calls to selected Go
// runtime functions land in kernel replacements. A replacement is a function
// whose doc comment carries a "//go:redirect-from <runtime symbol>" line.
//
// Usage:
//
//	redirects count
//	redirects populate-table <kernel image>
package main

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
)

const (
	// kernelRoot is scanned for redirect annotations.
	kernelRoot = "kernel"

	redirectDirective = "//go:redirect-from"
	redirectSection   = ".goredirectstbl"
)

var debug = flag.Bool("debug", false, "enable debug logging.")

// redirect sends calls to the runtime function from to the kernel function to.
type redirect struct {
	from, to string
}

// tableEntry is the on-disk layout of a redirect table slot.
type tableEntry struct {
	From, To uint64
}

// modulePath returns the module path declared by the go.mod file in dir.
func modulePath(dir string) (string, error) {
	goMod := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(goMod)
	if err != nil {
		return "", err
	}

	if mod := modfile.ModulePath(data); mod != "" {
		return mod, nil
	}
	return "", fmt.Errorf("%s: missing module directive", goMod)
}

// scanTree returns the redirects declared by the non-test Go files under
// root/kernelRoot. Destination symbols are qualified with the package path of
// their file below module.
func scanTree(root, module string) ([]redirect, error) {
	var found []redirect

	err := filepath.WalkDir(filepath.Join(root, kernelRoot), func(file string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir(), filepath.Ext(file) != ".go", strings.HasSuffix(file, "_test.go"):
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(file))
		if err != nil {
			return err
		}

		redirects, err := fileRedirects(file, path.Join(module, filepath.ToSlash(rel)))
		found = append(found, redirects...)
		return err
	})

	return found, err
}

// fileRedirects parses a single Go file belonging to package pkgPath.
func fileRedirects(file, pkgPath string) ([]redirect, error) {
	f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var redirects []redirect
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Doc == nil {
			continue
		}

		for _, c := range fn.Doc.List {
			fields := strings.Fields(c.Text)
			if len(fields) == 0 || fields[0] != redirectDirective {
				continue
			}

			to := pkgPath + "." + fn.Name.Name
			if len(fields) != 2 {
				return nil, fmt.Errorf("%s: malformed %s directive on %s", file, redirectDirective, to)
			}

			logrus.WithFields(logrus.Fields{"from": fields[1], "to": to}).Debug("found redirect")
			redirects = append(redirects, redirect{from: fields[1], to: to})
		}
	}

	return redirects, nil
}

// symbolAddrs maps the names of the ELF symbols in img to their addresses.
func symbolAddrs(img *elf.File) (map[string]uint64, error) {
	symbols, err := img.Symbols()
	if err != nil {
		return nil, err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, sym := range symbols {
		addrs[sym.Name] = sym.Value
	}
	return addrs, nil
}

// encodeTable resolves the redirect symbols and returns the redirect table in
// its on-disk layout.
func encodeTable(addrs map[string]uint64, redirects []redirect) ([]byte, error) {
	var table bytes.Buffer
	for _, r := range redirects {
		entry := tableEntry{From: addrs[r.from], To: addrs[r.to]}
		switch {
		case entry.From == 0:
			return nil, fmt.Errorf("could not locate address of %q", r.from)
		case entry.To == 0:
			return nil, fmt.Errorf("could not locate address of %q", r.to)
		}

		binary.Write(&table, binary.LittleEndian, entry)
	}

	return table.Bytes(), nil
}

// populateTable writes the redirect table into the redirect section of the
// kernel image at imgPath.
func populateTable(imgPath string, redirects []redirect) error {
	img, err := elf.Open(imgPath)
	if err != nil {
		return err
	}
	defer img.Close()

	section := img.Section(redirectSection)
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgPath, redirectSection)
	}

	addrs, err := symbolAddrs(img)
	if err != nil {
		return fmt.Errorf("%s: %w", imgPath, err)
	}

	table, err := encodeTable(addrs, redirects)
	if err != nil {
		return fmt.Errorf("%s: %w", imgPath, err)
	}
	if uint64(len(table)) > section.Size {
		return fmt.Errorf("%s: %d redirects do not fit in %s", imgPath, len(redirects), redirectSection)
	}

	out, err := os.OpenFile(imgPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err = out.WriteAt(table, int64(section.Offset)); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// countCmd implements subcommands.Command for the "count" command.
type countCmd struct{}

// Name implements subcommands.Command.Name.
func (*countCmd) Name() string { return "count" }

// Synopsis implements subcommands.Command.Synopsis.
func (*countCmd) Synopsis() string { return "print the number of redirects" }

// Usage implements subcommands.Command.Usage.
func (*countCmd) Usage() string {
	return `count - print the number of redirect table slots the kernel needs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*countCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*countCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	redirects := args[0].([]redirect)
	fmt.Printf("%d", len(redirects))
	return subcommands.ExitSuccess
}

// populateCmd implements subcommands.Command for the "populate-table" command.
type populateCmd struct{}

// Name implements subcommands.Command.Name.
func (*populateCmd) Name() string { return "populate-table" }

// Synopsis implements subcommands.Command.Synopsis.
func (*populateCmd) Synopsis() string { return "fill the redirect table of a kernel image" }

// Usage implements subcommands.Command.Usage.
func (*populateCmd) Usage() string {
	return `populate-table <kernel image> - resolve the redirects and patch them into the image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*populateCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*populateCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		logrus.Error("populate-table requires the path to the kernel image")
		return subcommands.ExitUsageError
	}

	redirects := args[0].([]redirect)
	if err := populateTable(f.Arg(0), redirects); err != nil {
		logrus.WithError(err).Error("populating redirect table failed")
		return subcommands.ExitFailure
	}

	logrus.WithField("count", len(redirects)).Info("populated redirect table")
	return subcommands.ExitSuccess
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(new(countCmd), "")
	subcommands.Register(new(populateCmd), "")

	flag.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	module, err := modulePath(".")
	if err != nil {
		logrus.WithError(err).Fatal("this tool must be run from the module root")
	}

	redirects, err := scanTree(".", module)
	if err != nil {
		logrus.WithError(err).Fatal("scanning for redirects failed")
	}

	os.Exit(int(subcommands.Execute(context.Background(), redirects)))
}
