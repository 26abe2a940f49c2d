//go:build unit

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHelpCommand(t *testing.T) {
	code, out, _ := runCmd(t, "help")
	if code != 0 {
		t.Errorf("help exited with %d", code)
	}
	if !strings.Contains(out, "Usage") {
		t.Error("help output should contain Usage")
	}
	if !strings.Contains(out, "BAM scatter-gather tables and the FGPI DMA") {
		t.Error("help output should say that run does not program the DMA engine")
	}

	code, out, _ = runCmd(t)
	if code != 0 || !strings.Contains(out, "Commands:") {
		t.Errorf("no arguments should print usage, got %d %q", code, out)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := runCmd(t, "frobnicate")
	if code != 1 {
		t.Errorf("unknown command exited with %d", code)
	}
	if !strings.Contains(errOut, "Unknown command: frobnicate") {
		t.Errorf("unexpected stderr: %q", errOut)
	}
}

func TestVersionCommand(t *testing.T) {
	_, out, _ := runCmd(t, "version")
	if !strings.Contains(out, "budgetctl version "+Version) {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestScanCommand(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "0000:04:00.0")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]string{"vendor": "0x1131", "device": "0x7160", "subsystem_vendor": "0x6981", "subsystem_device": "0x0001"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(v+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	code, out, errOut := runCmd(t, "scan", "-sysfs", root)
	if code != 0 {
		t.Fatalf("scan failed: %s", errOut)
	}
	if !strings.Contains(out, "0000:04:00.0 SAA7160 subsystem 6981:0001 (unbound)") {
		t.Errorf("unexpected scan output: %q", out)
	}

	code, out, _ = runCmd(t, "info", "-sysfs", root, "0000:04:00.0")
	if code != 0 || !strings.Contains(out, "UIO: none") {
		t.Errorf("unexpected info output: %d %q", code, out)
	}

	code, out, _ = runCmd(t, "scan", "-sysfs", t.TempDir())
	if code != 0 || !strings.Contains(out, "No SAA716x devices found") {
		t.Errorf("unexpected empty scan output: %d %q", code, out)
	}
}

func TestInfoCommandRejectsBadAddress(t *testing.T) {
	code, _, errOut := runCmd(t, "info", "uio0")
	if code != 1 || !strings.Contains(errOut, "not a PCI address") {
		t.Errorf("unexpected result: %d %q", code, errOut)
	}

	code, _, _ = runCmd(t, "info")
	if code != 1 {
		t.Errorf("info without address exited with %d", code)
	}
}

func TestDebugCommand(t *testing.T) {
	code, out, _ := runCmd(t, "debug")
	if code != 0 {
		t.Fatalf("debug exited with %d", code)
	}
	for _, want := range []string{
		"Status L/H:      0x02fc0 0x02fc4",
		"FGPI 0: dma channel  6, buffer mode 0x00174, ack bit 6",
		"FGPI 3: dma channel  9, buffer mode 0x0021c, ack bit 9",
		"write index = bits 3..5",
		"Ring: 8 segments of 348 x 188 bytes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("debug output lacks %q:\n%s", want, out)
		}
	}
}

func TestRunRequiresConfig(t *testing.T) {
	code, _, errOut := runCmd(t, "run")
	if code != 1 || !strings.Contains(errOut, "-config flag must be set") {
		t.Errorf("unexpected result: %d %q", code, errOut)
	}

	cfg := filepath.Join(t.TempDir(), "card.yaml")
	if err := os.WriteFile(cfg, []byte("int_type: msi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, errOut = runCmd(t, "run", "-config", cfg)
	if code != 1 || !strings.Contains(errOut, "cannot be delivered through uio") {
		t.Errorf("unexpected result: %d %q", code, errOut)
	}
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sat.ts")
	cfg := filepath.Join(dir, "card.yaml")
	raw := "logging: {level: error}\nadapters:\n  - {name: sat, ts_port: 1, output: " + out + "}\n  - {name: cable, ts_port: 2}\n"
	if err := os.WriteFile(cfg, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, errOut := runCmd(t, "simulate", "-config", cfg, "-segments", "12", "-interval", "1ms")
	if code != 0 {
		t.Fatalf("simulate failed: %s", errOut)
	}
	if !strings.Contains(stdout, "fgpi1: ") || !strings.Contains(stdout, ", 12 segments, 785088 bytes") {
		t.Errorf("unexpected simulate output:\n%s", stdout)
	}
	if !strings.Contains(stdout, "sat: 4176 packets, 1 pids, 0 sync losses, 0 cc errors, 0 tei drops") {
		t.Errorf("unexpected demux report:\n%s", stdout)
	}

	fi, err := os.Stat(out)
	if err != nil {
		t.Fatalf("capture missing: %v", err)
	}
	if fi.Size() != 12*65424 {
		t.Errorf("capture has %d bytes, expected %d", fi.Size(), 12*65424)
	}
}
