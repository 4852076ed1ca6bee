package simulator

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput(t *testing.T) {
	t.Parallel()

	stdout := "Picking up tip from A1 of Opentrons 96 Tip Rack 300 µL on 1\n" +
		"\n" +
		"Transferring 50.0 from A1 of plate on 2 to B1 of plate on 2\n" +
		"WARNING: labware definition is deprecated\n"
	stderr := "Traceback (most recent call last):\n" +
		"  File \"/tmp/protocols/p.py\", line 9, in run\n" +
		"    protocol.load_labware('corning_96_wellplate_360ul_flat', 'A1')\n" +
		"opentrons.protocols.api_support.util.LabwareLoadError: Invalid deck slot A1\n"

	got := ParseOutput(stdout, stderr, 1)
	require.Len(t, got, 4)
	assert.Equal(t, domain.LevelInfo, got[0].Level)
	assert.Equal(t, domain.LevelInfo, got[1].Level)
	assert.Equal(t, domain.LevelWarning, got[2].Level)
	assert.Equal(t, domain.LogEntry{
		Level:   domain.LevelError,
		Message: "opentrons.protocols.api_support.util.LabwareLoadError: Invalid deck slot A1",
	}, got[3])
}

func TestParseOutputExitCodeWithoutTraceback(t *testing.T) {
	t.Parallel()

	got := ParseOutput("", "killed\n", 137)
	require.Len(t, got, 2)
	assert.Equal(t, domain.LevelInfo, got[0].Level)
	assert.Equal(t, domain.LevelError, got[1].Level)
	assert.Contains(t, got[1].Message, "137")

	assert.Equal(t, []domain.LogEntry{}, ParseOutput("", "", 0))
}

func TestLocalSimulator(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture requires a POSIX shell")
	}
	t.Parallel()

	dir := t.TempDir()
	bin := filepath.Join(dir, "fake_simulate")
	script := "#!/bin/sh\n" +
		"echo \"simulating $1\"\n" +
		"echo 'Traceback (most recent call last):' >&2\n" +
		"echo 'RuntimeError: missing tiprack' >&2\n" +
		"exit 1\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	sim := NewLocalSimulator(bin, nil)
	assert.True(t, sim.Available())

	got, err := sim.Simulate(context.Background(), "/tmp/p.py")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "simulating /tmp/p.py", got[0].Message)
	assert.Equal(t, domain.LogEntry{Level: domain.LevelError, Message: "RuntimeError: missing tiprack"}, got[1])
}

func TestLocalSimulatorMissingBinary(t *testing.T) {
	t.Parallel()

	sim := NewLocalSimulator("definitely-not-a-real-simulator-binary", nil)
	assert.False(t, sim.Available())

	_, err := sim.Simulate(context.Background(), "/tmp/p.py")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Simulate(context.Background(), "p.py")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestProtocolArchive(t *testing.T) {
	t.Parallel()

	r, err := protocolArchive("protocol-123.py", []byte("metadata = {}\n"))
	require.NoError(t, err)

	tr := tar.NewReader(r)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "protocol-123.py", hdr.Name)
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "metadata = {}\n", string(body))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSimulateCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"opentrons_simulate", "/tmp/protocols/p.py"},
		simulateCommand(context.Background(), "opentrons_simulate", "/tmp/protocols/p.py"))

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	assert.Equal(t, []string{"timeout", "-s", "KILL", "90", "opentrons_simulate", "/tmp/protocols/p.py"},
		simulateCommand(ctx, "opentrons_simulate", "/tmp/protocols/p.py"))

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	assert.Equal(t, "1", simulateCommand(expired, "opentrons_simulate", "p.py")[3])
}
