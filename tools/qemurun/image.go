package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// grubConfig returns a GRUB configuration that boots the kernel at
// /boot/kernel.bin with the supplied command line.
func grubConfig(cmdline string) string {
	return fmt.Sprintf(`set timeout=0
set default=0

menuentry "wallyos" {
	multiboot2 /boot/kernel.bin %s
	boot
}
`, cmdline)
}

// buildImage packs the kernel into a bootable ISO image inside dir. The boot
// command line is baked into the GRUB configuration of the image.
func buildImage(ctx context.Context, c *config, cmdline, dir string) (string, error) {
	bootDir := filepath.Join(dir, "iso", "boot")
	if err := os.MkdirAll(filepath.Join(bootDir, "grub"), 0755); err != nil {
		return "", fmt.Errorf("creating image tree: %w", err)
	}

	if err := copyFile(c.Kernel, filepath.Join(bootDir, "kernel.bin")); err != nil {
		return "", fmt.Errorf("copying kernel: %w", err)
	}

	if err := os.WriteFile(filepath.Join(bootDir, "grub", "grub.cfg"), []byte(grubConfig(cmdline)), 0644); err != nil {
		return "", fmt.Errorf("writing grub.cfg: %w", err)
	}

	image := filepath.Join(dir, "kernel.iso")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.GrubMkrescue, "-o", image, filepath.Join(dir, "iso"))
	cmd.Stderr = &stderr
	logrus.WithFields(logrus.Fields{"cmdline": cmdline, "image": image}).Debug("building boot image")
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", c.GrubMkrescue, err, stderr.String())
	}
	return image, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
