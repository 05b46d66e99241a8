package main

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// resultRE matches the line printed by the kernel once a self-test
	// completes. Timer output may precede the test name on the same line.
	resultRE = regexp.MustCompile(`([a-z_]+)\.\.\. \[(ok|failed)\](?: (.*))?$`)

	exceptionRE = regexp.MustCompile(`^EXCEPTION: (.+)$`)
	fieldRE     = regexp.MustCompile(`^([a-z ]+): (.*)$`)
	registerRE  = regexp.MustCompile(`([A-Z0-9]+)\s*=\s*([0-9a-fA-F]+)`)
)

// testResult is the outcome of a single kernel self-test.
type testResult struct {
	Name    string
	Passed  bool
	Message string
}

// faultReport is an exception report printed by the kernel fault handlers.
type faultReport struct {
	Name      string
	Fields    map[string]string
	Registers map[string]uint64
}

// Vector returns the vector number recorded in the report or -1 if it is
// missing.
func (r *faultReport) Vector() int {
	v, err := strconv.Atoi(r.Fields["vector"])
	if err != nil {
		return -1
	}
	return v
}

// serialLog is the parsed guest serial output.
type serialLog struct {
	Results []testResult
	Faults  []faultReport
}

// Passed reports whether at least one self-test ran and none failed.
func (l *serialLog) Passed() bool {
	if len(l.Results) == 0 {
		return false
	}
	for _, r := range l.Results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// parseSerialLog extracts the self-test results and fault reports from the
// kernel's serial output.
func parseSerialLog(r io.Reader) (*serialLog, error) {
	var (
		log     serialLog
		current *faultReport
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := exceptionRE.FindStringSubmatch(line); m != nil {
			log.Faults = append(log.Faults, faultReport{
				Name:      m[1],
				Fields:    make(map[string]string),
				Registers: make(map[string]uint64),
			})
			current = &log.Faults[len(log.Faults)-1]
			continue
		}

		if m := resultRE.FindStringSubmatch(line); m != nil {
			current = nil
			log.Results = append(log.Results, testResult{
				Name:    m[1],
				Passed:  m[2] == "ok",
				Message: m[3],
			})
			continue
		}

		if current == nil {
			continue
		}

		switch {
		case line == "":
		case fieldRE.MatchString(line):
			m := fieldRE.FindStringSubmatch(line)
			current.Fields[m[1]] = m[2]
		case registerRE.MatchString(line):
			for _, m := range registerRE.FindAllStringSubmatch(line, -1) {
				v, err := strconv.ParseUint(m[2], 16, 64)
				if err != nil {
					return nil, fmt.Errorf("register %s: %w", m[1], err)
				}
				current.Registers[m[1]] = v
			}
		default:
			current = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading serial log: %w", err)
	}
	return &log, nil
}

// printFaultReports writes a summary of each fault report to w.
func printFaultReports(w io.Writer, faults []faultReport) {
	for i, f := range faults {
		fmt.Fprintf(w, "fault %d: %s (vector %d)\n", i, f.Name, f.Vector())
		for _, key := range []string{"error code", "accessed address", "reason", "stack"} {
			if v, ok := f.Fields[key]; ok {
				fmt.Fprintf(w, "  %s: %s\n", key, v)
			}
		}
		if rip, ok := f.Registers["RIP"]; ok {
			fmt.Fprintf(w, "  RIP: %#x\n", rip)
		}
	}
}
