package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that is silent unless TEST_LOGS is set
func NewLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	switch v {
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l
}

// SkipIfNoDevice skips the test unless SAA716X_UIO and SAA716X_RESOURCE point
// at a card bound to uio_pci_generic, and returns both paths
func SkipIfNoDevice(t *testing.T) (uio, resource string) {
	t.Helper()

	uio = os.Getenv("SAA716X_UIO")
	resource = os.Getenv("SAA716X_RESOURCE")
	if uio == "" || resource == "" {
		t.Skip("SAA716X_UIO and SAA716X_RESOURCE not set")
	}
	for _, path := range []string{uio, resource} {
		if _, err := os.Stat(path); err != nil {
			t.Skipf("%s not available: %v", path, err)
		}
	}
	return uio, resource
}

// TempFile creates a temporary file with given content
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, content, 0644)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// MakeTSPackets builds n valid transport stream packets on pid with
// continuity counters starting at cc
func MakeTSPackets(pid uint16, n int, cc byte) []byte {
	data := make([]byte, 0, n*188)
	for i := 0; i < n; i++ {
		pkt := make([]byte, 188)
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1f
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | (cc+byte(i))&0x0f
		for j := 4; j < len(pkt); j++ {
			pkt[j] = byte(i + j)
		}
		data = append(data, pkt...)
	}
	return data
}
