package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/ephemeral/internal/config"
	"github.com/sigreer/ephemeral/internal/db"
	"github.com/sigreer/ephemeral/internal/devicemap"
	"github.com/sigreer/ephemeral/internal/ephemeral"
	"github.com/sigreer/ephemeral/internal/metadata"
)

const xenNode = `{
  "ec2": {
    "block_device_mapping_ephemeral0": "sdb",
    "block_device_mapping_ephemeral1": "sdc"
  },
  "virtualization": {"system": "xen"},
  "block_device": {"xvda": {}, "xvdb": {}}
}`

const bareNode = `{
  "ec2": {
    "block_device_mapping_ephemeral0": "sdb"
  }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// testConfig points every filesystem root at a temp dir
func testConfig(t *testing.T, node string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Cloud = "ec2"
	cfg.Metadata = filepath.Join(dir, "node.json")
	cfg.SysfsRoot = filepath.Join(dir, "sys")
	cfg.DevRoot = filepath.Join(dir, "dev")
	cfg.History.Database = filepath.Join(dir, "history.db")
	writeFile(t, cfg.Metadata, node)
	return cfg
}

func TestDetectDevices(t *testing.T) {
	tests := []struct {
		name       string
		node       string
		source     string
		sysfs      map[string]string
		hypervisor metadata.HypervisorKind
		devices    []string
		usedSource string
	}{
		{
			name:       "xen with metadata inventory",
			node:       xenNode,
			source:     config.InventoryAuto,
			devices:    []string{"/dev/xvdb"},
			usedSource: config.InventoryMetadata,
		},
		{
			name:   "xen with sysfs inventory",
			node:   xenNode,
			source: config.InventorySysfs,
			sysfs: map[string]string{
				"block/xvdb/size": "1",
				"block/xvdc/size": "1",
			},
			devices:    []string{"/dev/xvdb", "/dev/xvdc"},
			usedSource: config.InventorySysfs,
		},
		{
			name:   "hypervisor from sysfs when metadata has none",
			node:   bareNode,
			source: config.InventoryAuto,
			sysfs: map[string]string{
				"hypervisor/type": "xen",
				"block/xvdb/size": "1",
			},
			devices:    []string{"/dev/xvdb"},
			usedSource: config.InventorySysfs,
		},
		{
			name:    "not xen keeps detected paths",
			node:    bareNode,
			source:  config.InventoryAuto,
			sysfs:   map[string]string{"block/xvdb/size": "1"},
			devices: []string{"/dev/sdb"},
		},
		{
			name:       "hypervisor override",
			node:       xenNode,
			source:     config.InventoryAuto,
			hypervisor: metadata.HypervisorOther,
			devices:    []string{"/dev/sdb", "/dev/sdc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.node)
			cfg.InventorySource = tt.source
			for rel, content := range tt.sysfs {
				writeFile(t, filepath.Join(cfg.SysfsRoot, rel), content)
			}

			det, err := detectDevices(cfg, zerolog.Nop(), detectRequest{hypervisor: tt.hypervisor})
			require.NoError(t, err)
			require.NoError(t, det.err)
			assert.Equal(t, tt.devices, det.result.Devices)
			assert.Equal(t, tt.usedSource, det.inventorySource)
		})
	}
}

func TestDetectDevicesFromStdin(t *testing.T) {
	cfg := config.Default()
	cfg.Cloud = "ec2"
	cfg.Metadata = "-"
	cfg.SysfsRoot = t.TempDir()

	det, err := detectDevices(cfg, zerolog.Nop(), detectRequest{stdin: strings.NewReader(xenNode)})
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/xvdb"}, det.result.Devices)
}

func TestDetectDevicesErrors(t *testing.T) {
	cfg := config.Default()
	_, err := detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cloud given")

	cfg.Cloud = "ec2"
	_, err = detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metadata given")

	cfg.Metadata = filepath.Join(t.TempDir(), "missing.json")
	_, err = detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read metadata file")

	cfg = testConfig(t, xenNode)
	cfg.InventorySource = config.InventorySysfs
	_, err = detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list block devices")
}

func TestDetectDevicesStrict(t *testing.T) {
	cfg := testConfig(t, xenNode)
	cfg.Strict = true

	det, err := detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.NoError(t, err)
	require.Error(t, det.err)

	var unresolved *ephemeral.UnresolvedError
	require.True(t, errors.As(det.err, &unresolved))
	assert.Equal(t, []string{"/dev/sdc"}, unresolved.Devices)
	assert.Equal(t, []string{"/dev/xvdb"}, det.result.Devices)
}

func TestRecordRun(t *testing.T) {
	cfg := testConfig(t, xenNode)
	cfg.Strict = true

	det, err := detectDevices(cfg, zerolog.Nop(), detectRequest{})
	require.NoError(t, err)
	var logs bytes.Buffer
	require.NoError(t, recordRun(cfg, zerolog.New(&logs), det))
	assert.Contains(t, logs.String(), cfg.History.Database)

	database, err := db.New(cfg.History.Database)
	require.NoError(t, err)
	defer database.Close()

	runs, err := database.GetRecentRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run, err := database.GetRun(runs[0].UUID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "xen", run.Hypervisor)
	assert.Equal(t, config.InventoryMetadata, run.InventorySource)
	assert.Equal(t, 1, run.DeviceCount)
	assert.True(t, run.Strict)
	assert.Contains(t, run.Error, "/dev/sdc")
	require.Len(t, run.Devices, 2)
	assert.Equal(t, string(devicemap.OutcomeRemapped), run.Devices[0].Outcome)
	assert.Equal(t, string(devicemap.OutcomeDropped), run.Devices[1].Outcome)
}

func TestNewRunWithoutReconciliation(t *testing.T) {
	cfg := config.Default()
	run := newRun(cfg, &detection{result: &ephemeral.Result{
		Cloud:      "gce",
		Hypervisor: metadata.HypervisorOther,
		Detected:   []string{"/dev/disk/by-id/google-ephemeral-disk-0"},
		Devices:    []string{"/dev/disk/by-id/google-ephemeral-disk-0"},
	}})

	assert.Equal(t, "gce", run.Cloud)
	assert.Empty(t, run.Error)
	require.Len(t, run.Devices, 1)
	assert.Equal(t, db.OutcomeDetected, run.Devices[0].Outcome)
	assert.Equal(t, run.Devices[0].OriginalPath, run.Devices[0].FinalPath)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	log := newLogger(&buf, cfg)
	log.Info().Msg("hidden")
	log.Warn().Msg("could not find ephemeral device: /dev/sdc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN |")
	assert.Contains(t, out, "could not find ephemeral device: /dev/sdc")
}
