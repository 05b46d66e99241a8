package pmm

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"
	"wallyos/kernel/hal/multiboot"
	"wallyos/kernel/mm"
)

func TestBootMemoryAllocator(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	specs := []struct {
		kernelStart, kernelEnd uintptr
		expAllocCount          uint64
	}{
		{
			// no kernel reservation
			0xa0000,
			0xa0000,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
			// region 1 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			159 + 32480,
		},
		{
			// the kernel is loaded at the beginning of region 1 taking 2.5 pages
			0x0,
			0x2800,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]; out of these
			// frames 0,1 and 2 (round up kernel end) are used by the kernel
			// region 1 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			159 - 3 + 32480,
		},
		{
			// the kernel is loaded at the end of region 1 taking 2.5 pages
			0x9c800,
			0x9f000,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]; out of these
			// frames 156,157 and 158 (round down kernel start) are used by the kernel
			// region 1 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			159 - 3 + 32480,
		},
		{
			// the kernel (after rounding) uses the entire region 1
			0x123,
			0x9fc00,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]; all are used
			// by the kernel
			// region 1 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735]
			32480,
		},
		{
			// the kernel is loaded at region 2 start + 2K taking 1.5 pages
			0x100800,
			0x102000,
			// region 1 extents get rounded to [0, 9f000] and provides 159 frames [0 to 158]
			// region 1 uses the original extents [100000 - 7fe0000] and provides 32480 frames [256-32735];
			// out of these frames 256 (kernel start rounded down) and 257 is used by the kernel
			159 + 32480 - 2,
		},
	}

	var alloc BootMemAllocator
	for specIndex, spec := range specs {
		alloc.Init(multiboot.VisitMemRegions, spec.kernelStart, spec.kernelEnd)

		var (
			reservedStart = mm.FrameFromAddress(mm.PhysAddr(spec.kernelStart))
			reservedEnd   = mm.FrameFromAddress(mm.PhysAddr(spec.kernelEnd + uintptr(mm.PageSize-1)))
			lastFrame     mm.Frame
		)

		for {
			frame, err := alloc.AllocFrame()
			if err != nil {
				if err == ErrOutOfMemory {
					break
				}
				t.Errorf("[spec %d] [frame %d] unexpected allocator error: %v", specIndex, alloc.AllocCount(), err)
				break
			}

			if !frame.Valid() {
				t.Errorf("[spec %d] [frame %d] expected IsValid() to return true", specIndex, alloc.AllocCount())
			}

			// frames are handed out in increasing order so a repeated
			// frame would show up as a non-increasing value
			if alloc.AllocCount() > 1 && frame <= lastFrame {
				t.Errorf("[spec %d] [frame %d] expected frame %d to be greater than previous frame %d", specIndex, alloc.AllocCount(), frame, lastFrame)
			}
			lastFrame = frame

			if spec.kernelEnd > spec.kernelStart && frame >= reservedStart && frame < reservedEnd {
				t.Errorf("[spec %d] allocator returned frame %d which overlaps the kernel image", specIndex, frame)
			}
		}

		if alloc.AllocCount() != spec.expAllocCount {
			t.Errorf("[spec %d] expected allocator to allocate %d frames; allocated %d", specIndex, spec.expAllocCount, alloc.AllocCount())
		}
	}
}

func TestBootMemoryAllocatorExhaustion(t *testing.T) {
	regions := sliceRegionSource{
		// 2 frames after rounding: [0x1000, 0x3000)
		{PhysAddress: 0x0800, Length: 0x2900, Type: multiboot.MemAvailable},
		{PhysAddress: 0x3000, Length: 0x10000, Type: multiboot.MemReserved},
		// smaller than a page
		{PhysAddress: 0x20000, Length: 0x800, Type: multiboot.MemAvailable},
		// 3 frames: [0x40000, 0x43000)
		{PhysAddress: 0x40000, Length: 0x3000, Type: multiboot.MemAvailable},
		// less than a page once aligned
		{PhysAddress: 0x50800, Length: 0x1000, Type: multiboot.MemAvailable},
	}

	var alloc BootMemAllocator
	alloc.Init(regions.visit, 0, 0)

	expFrames := []mm.Frame{0x1, 0x2, 0x40, 0x41, 0x42}
	seen := make(map[mm.Frame]bool)
	for i := 0; i < 2*len(expFrames); i++ {
		frame, err := alloc.AllocFrame()
		if i >= len(expFrames) {
			if err != ErrOutOfMemory || frame.Valid() {
				t.Fatalf("[call %d] expected ErrOutOfMemory; got frame %d, err %v", i, frame, err)
			}
			continue
		}

		if err != nil {
			t.Fatalf("[call %d] unexpected error: %v", i, err)
		}

		if frame != expFrames[i] {
			t.Errorf("[call %d] expected frame %d; got %d", i, expFrames[i], frame)
		}

		if seen[frame] {
			t.Errorf("[call %d] frame %d returned twice", i, frame)
		}
		seen[frame] = true
	}

	if exp := uint64(len(expFrames)); alloc.AllocCount() != exp {
		t.Fatalf("expected alloc count to be %d; got %d", exp, alloc.AllocCount())
	}
}

func TestBootMemoryAllocatorWithoutRegions(t *testing.T) {
	var alloc BootMemAllocator
	if _, err := alloc.AllocFrame(); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory from an uninitialized allocator; got %v", err)
	}

	var buf bytes.Buffer
	alloc.PrintMemoryMap(&buf)
	if buf.Len() != 0 {
		t.Fatalf("expected no output for an uninitialized allocator; got %q", buf.String())
	}
}

func TestPrintMemoryMap(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	var alloc BootMemAllocator
	alloc.Init(multiboot.VisitMemRegions, 0x100000, 0x102800)

	var buf bytes.Buffer
	alloc.PrintMemoryMap(&buf)

	for _, exp := range []string{
		"[pmm] system memory map:",
		"[pmm] \t[0x0000000000 - 0x000009fc00], size:     654336, type: available\n",
		"type: reserved",
		"[pmm] available memory: 130559Kb",
		"[pmm] kernel loaded at 0x100000 - 0x102800",
		"[pmm] size: 10240 bytes, reserved pages: 3",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

type sliceRegionSource []multiboot.MemoryMapEntry

func (s sliceRegionSource) visit(visitor multiboot.MemRegionVisitor) {
	for _, region := range s {
		if !visitor(region) {
			return
		}
	}
}

var (
	// A dump of multiboot data when running under qemu containing only the
	// memory region tag.  The dump encodes the following available memory
	// regions:
	// [     0 -   9fc00] length:    654336
	// [100000 - 7fe0000] length: 133038080
	multibootMemoryMap = []byte{
		72, 5, 0, 0, 0, 0, 0, 0,
		6, 0, 0, 0, 160, 0, 0, 0, 24, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0, 0, 252, 9, 0, 0, 0, 0, 0,
		0, 4, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 15, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 16, 0, 0, 0, 0, 0,
		0, 0, 238, 7, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 254, 7, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 252, 255, 0, 0, 0, 0,
		0, 0, 4, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0,
		9, 0, 0, 0, 212, 3, 0, 0, 24, 0, 0, 0, 40, 0, 0, 0,
		21, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 27, 0, 0, 0,
		1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 16, 0, 0, 16, 0, 0,
		24, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)
