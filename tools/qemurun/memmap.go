package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"wallyos/kernel/hal/multiboot"
	"wallyos/kernel/mm"
	"wallyos/kernel/mm/pmm"
)

// memoryMap describes a firmware memory map, e.g.:
//
//	kernel_start = 0x100000
//	kernel_end = 0x180000
//
//	[[region]]
//	start = 0x0
//	length = 0x9fc00
//	type = "available"
type memoryMap struct {
	KernelStart uint64         `toml:"kernel_start"`
	KernelEnd   uint64         `toml:"kernel_end"`
	Regions     []memoryRegion `toml:"region"`
}

type memoryRegion struct {
	Start  uint64 `toml:"start"`
	Length uint64 `toml:"length"`
	Type   string `toml:"type"`
}

var regionTypes = map[string]multiboot.MemoryEntryType{
	"available":        multiboot.MemAvailable,
	"reserved":         multiboot.MemReserved,
	"acpi_reclaimable": multiboot.MemAcpiReclaimable,
	"nvs":              multiboot.MemNvs,
}

func loadMemoryMap(path string) (*memoryMap, error) {
	var m memoryMap
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("loading memory map %q: %w", path, err)
	}
	if m.KernelEnd < m.KernelStart {
		return nil, fmt.Errorf("loading memory map %q: kernel_end is below kernel_start", path)
	}
	for i, r := range m.Regions {
		if _, ok := regionTypes[r.Type]; !ok {
			return nil, fmt.Errorf("loading memory map %q: region %d: unknown type %q", path, i, r.Type)
		}
	}
	return &m, nil
}

// entries converts the regions to the multiboot representation consumed by
// the frame allocator.
func (m *memoryMap) entries() []multiboot.MemoryMapEntry {
	entries := make([]multiboot.MemoryMapEntry, 0, len(m.Regions))
	for _, r := range m.Regions {
		entries = append(entries, multiboot.MemoryMapEntry{
			PhysAddress: r.Start,
			Length:      r.Length,
			Type:        regionTypes[r.Type],
		})
	}
	return entries
}

// allocSummary describes a run of the boot frame allocator.
type allocSummary struct {
	Frames     uint64
	FirstFrame mm.Frame
	LastFrame  mm.Frame
}

// simulate runs the kernel's boot frame allocator over the memory map until
// it is exhausted or limit frames have been allocated (0 means no limit).
func (m *memoryMap) simulate(limit uint64) (*pmm.BootMemAllocator, allocSummary) {
	entries := m.entries()
	source := func(visitor multiboot.MemRegionVisitor) {
		for _, entry := range entries {
			if !visitor(entry) {
				return
			}
		}
	}

	var alloc pmm.BootMemAllocator
	alloc.Init(source, uintptr(m.KernelStart), uintptr(m.KernelEnd))

	summary := allocSummary{FirstFrame: mm.InvalidFrame, LastFrame: mm.InvalidFrame}
	for limit == 0 || summary.Frames < limit {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		if summary.Frames == 0 {
			summary.FirstFrame = frame
		}
		summary.LastFrame = frame
		summary.Frames++
	}
	return &alloc, summary
}

// memmapCmd implements subcommands.Command for the "memmap" command.
type memmapCmd struct {
	limit uint64
}

// Name implements subcommands.Command.Name.
func (*memmapCmd) Name() string {
	return "memmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*memmapCmd) Synopsis() string {
	return "run the boot frame allocator over a memory map description"
}

// Usage implements subcommands.Command.Usage.
func (*memmapCmd) Usage() string {
	return `memmap [flags] <memory map file> - simulate boot frame allocation.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *memmapCmd) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&m.limit, "limit", 0, "stop after allocating this many frames (0 allocates until exhaustion).")
}

// Execute implements subcommands.Command.Execute.
func (m *memmapCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	memMap, err := loadMemoryMap(f.Arg(0))
	if err != nil {
		logrus.WithError(err).Error("invalid memory map")
		return subcommands.ExitFailure
	}

	alloc, summary := memMap.simulate(m.limit)
	alloc.PrintMemoryMap(os.Stdout)
	printAllocSummary(os.Stdout, summary)
	return subcommands.ExitSuccess
}

func printAllocSummary(w io.Writer, s allocSummary) {
	fmt.Fprintf(w, "allocated frames: %d\n", s.Frames)
	if s.Frames == 0 {
		return
	}
	fmt.Fprintf(w, "first frame: %d (%#x)\n", s.FirstFrame, uint64(s.FirstFrame.Address()))
	fmt.Fprintf(w, "last frame: %d (%#x)\n", s.LastFrame, uint64(s.LastFrame.Address()))
}
