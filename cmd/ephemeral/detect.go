package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sigreer/ephemeral/internal/collector"
	"github.com/sigreer/ephemeral/internal/config"
	"github.com/sigreer/ephemeral/internal/db"
	"github.com/sigreer/ephemeral/internal/ephemeral"
	"github.com/sigreer/ephemeral/internal/metadata"
	"github.com/sigreer/ephemeral/internal/output"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List the ephemeral devices of this node",
	Long: `Detect ephemeral block devices from node metadata.

Clouds publishing block_device_mapping_ephemeralN keys (EC2, OpenStack and
others) are read from those keys. On GCE, EPHEMERAL attached disks are
reported by their /dev/disk/by-id/google-* links.

On Xen guests every detected /dev/sdX path is checked against the guest
block device inventory and rewritten to /dev/xvdX when only that name
exists. Devices found under neither name are dropped with a warning, or
fail the command with --strict.

Examples:
  ephemeral detect --cloud ec2 --metadata /var/lib/ohai/node.json
  ephemeral detect --cloud gce --metadata node.yaml -o table
  ohai | ephemeral detect --cloud ec2 --metadata - -q`,
	Run: runDetect,
}

func init() {
	detectCmd.Flags().String("cloud", "", "cloud provider key in the metadata (ec2, gce, openstack, ...)")
	detectCmd.Flags().StringP("metadata", "m", "", "node metadata file, JSON or YAML ('-' for stdin)")
	detectCmd.Flags().String("inventory", "", "guest inventory source: auto, metadata, sysfs")
	detectCmd.Flags().String("hypervisor", "", "override hypervisor classification (xen, other)")
	detectCmd.Flags().Bool("strict", false, "fail when a detected device is missing on the guest")
	detectCmd.Flags().Bool("record", false, "record the run in the history database")
	detectCmd.Flags().StringP("output", "o", "json", "Output format: json, table")
	detectCmd.Flags().BoolP("quiet", "q", false, "Only output device paths")
}

// detectRequest carries the per-invocation inputs of a detection run
type detectRequest struct {
	hypervisor metadata.HypervisorKind
	stdin      io.Reader
}

// detection is the outcome of detectDevices
type detection struct {
	result          *ephemeral.Result
	inventorySource string
	err             error
}

func runDetect(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	flags := cmd.Flags()

	if flags.Changed("cloud") {
		cfg.Cloud, _ = flags.GetString("cloud")
	}
	if flags.Changed("metadata") {
		cfg.Metadata, _ = flags.GetString("metadata")
	}
	if flags.Changed("inventory") {
		cfg.InventorySource, _ = flags.GetString("inventory")
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("record") {
		cfg.History.Record, _ = flags.GetBool("record")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hvFlag, _ := flags.GetString("hypervisor")
	hv, err := metadata.ParseHypervisorKind(hvFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	outputFmt, _ := flags.GetString("output")
	quiet, _ := flags.GetBool("quiet")

	log := newLogger(os.Stderr, cfg)

	det, err := detectDevices(cfg, log, detectRequest{hypervisor: hv, stdin: os.Stdin})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error detecting ephemeral devices: %v\n", err)
		os.Exit(1)
	}

	if cfg.History.Record {
		if err := recordRun(cfg, log, det); err != nil {
			log.Warn().Err(err).Msg("failed to record run in history")
		}
	}

	switch {
	case quiet:
		output.PrintQuiet(os.Stdout, det.result)
	case outputFmt == "table":
		output.PrintTable(os.Stdout, det.result)
	default:
		if err := output.PrintJSON(os.Stdout, det.result); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
	}

	if det.err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", det.err)
		os.Exit(1)
	}
}

// detectDevices loads the node metadata, resolves hypervisor and guest
// inventory and runs the finder. A strict mode failure is returned in
// detection.err together with the partial result.
func detectDevices(cfg *config.Config, log zerolog.Logger, req detectRequest) (*detection, error) {
	if cfg.Cloud == "" {
		return nil, errors.New("no cloud given, use --cloud or set 'cloud' in the config")
	}
	if cfg.Metadata == "" {
		return nil, errors.New("no metadata given, use --metadata or set 'metadata' in the config")
	}

	tree, err := loadMetadata(cfg.Metadata, req.stdin)
	if err != nil {
		return nil, err
	}

	hypervisor := req.hypervisor
	if hypervisor == "" && !tree.HasVirtualization() {
		hypervisor = collector.Hypervisor(cfg.SysfsRoot)
		log.Debug().Msgf("metadata has no virtualization.system, sysfs reports '%s'", hypervisor)
	}

	det := &detection{}
	var inv metadata.Inventory
	if hypervisor == metadata.HypervisorXen || (hypervisor == "" && tree.Hypervisor() == metadata.HypervisorXen) {
		inv, det.inventorySource, err = guestInventory(cfg, tree)
		if err != nil {
			return nil, err
		}
		log.Debug().Msgf("guest inventory from %s: %v", det.inventorySource, inv.Names())
	}

	finder := ephemeral.NewFinder(log, ephemeral.Options{Strict: cfg.Strict})
	det.result, det.err = finder.Find(cfg.Cloud, tree, hypervisor, inv)
	return det, nil
}

func loadMetadata(path string, stdin io.Reader) (*metadata.Tree, error) {
	if path != "-" {
		return metadata.Load(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metadata from stdin")
	}
	return metadata.Parse(data)
}

// guestInventory picks the block device inventory according to
// cfg.InventorySource and reports which source was used
func guestInventory(cfg *config.Config, tree *metadata.Tree) (metadata.Inventory, string, error) {
	switch cfg.InventorySource {
	case config.InventoryMetadata:
		inv, _ := tree.BlockDevices()
		return inv, config.InventoryMetadata, nil
	case config.InventorySysfs:
		inv, err := collector.GuestInventory(cfg.SysfsRoot)
		return inv, config.InventorySysfs, err
	default:
		if inv, ok := tree.BlockDevices(); ok {
			return inv, config.InventoryMetadata, nil
		}
		inv, err := collector.GuestInventory(cfg.SysfsRoot)
		return inv, config.InventorySysfs, err
	}
}

// recordRun stores a detection in the history database
func recordRun(cfg *config.Config, log zerolog.Logger, det *detection) error {
	database, err := db.New(cfg.History.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	run := newRun(cfg, det)
	if err := database.RecordRun(run); err != nil {
		return err
	}
	log.Debug().Msgf("recorded run %s in %s", run.UUID, database.Path())
	return nil
}

func newRun(cfg *config.Config, det *detection) *db.Run {
	result := det.result
	run := &db.Run{
		Cloud:           result.Cloud,
		Hypervisor:      string(result.Hypervisor),
		Strict:          cfg.Strict,
		InventorySource: det.inventorySource,
		DeviceCount:     len(result.Devices),
	}
	if det.err != nil {
		run.Error = det.err.Error()
	}

	if len(result.Resolutions) > 0 {
		for i, r := range result.Resolutions {
			run.Devices = append(run.Devices, &db.RunDevice{
				Position:     i,
				OriginalPath: r.Original,
				FinalPath:    r.Path,
				Outcome:      string(r.Outcome),
			})
		}
		return run
	}

	for i, device := range result.Detected {
		run.Devices = append(run.Devices, &db.RunDevice{
			Position:     i,
			OriginalPath: device,
			FinalPath:    device,
			Outcome:      db.OutcomeDetected,
		})
	}
	return run
}
