package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/ephemeral/internal/collector"
	"github.com/sigreer/ephemeral/internal/output"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Show the guest block device inventory",
	Long: `Show the block devices the guest kernel exposes.

This is the inventory Xen device reconciliation checks detected paths
against when inventory_source is sysfs. Data is read from sysfs and
/dev/disk/by-id only; devices are never opened.

Examples:
  ephemeral inventory
  ephemeral inventory --json`,
	Run: runInventory,
}

func init() {
	inventoryCmd.Flags().Bool("json", false, "Output as JSON")
}

func runInventory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	jsonOut, _ := cmd.Flags().GetBool("json")

	devices, err := collector.BlockDevices(cfg.SysfsRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting block devices: %v\n", err)
		os.Exit(1)
	}
	collector.AttachDevfs(cfg.DevRoot, devices)

	if jsonOut {
		if err := output.PrintJSON(os.Stdout, devices); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
		return
	}

	output.PrintInventory(os.Stdout, devices)
}
