package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sigreer/ephemeral/internal/collector"
	"github.com/sigreer/ephemeral/internal/db"
	"github.com/sigreer/ephemeral/internal/ephemeral"
)

// PrintJSON outputs v as indented JSON
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable outputs a detection result as a formatted table
func PrintTable(w io.Writer, result *ephemeral.Result) {
	fmt.Fprintf(w, "Cloud:      %s\n", result.Cloud)
	fmt.Fprintf(w, "Hypervisor: %s\n", result.Hypervisor)
	fmt.Fprintln(w)

	if len(result.Resolutions) == 0 {
		fmt.Fprintf(w, "%-45s\n", "DEVICE")
		fmt.Fprintln(w, strings.Repeat("-", 45))
		for _, device := range result.Devices {
			fmt.Fprintln(w, device)
		}
		if len(result.Devices) == 0 {
			fmt.Fprintln(w, "No ephemeral devices detected.")
		}
		return
	}

	fmt.Fprintf(w, "%-20s %-20s %s\n", "DETECTED", "DEVICE", "OUTCOME")
	fmt.Fprintln(w, strings.Repeat("-", 55))
	for _, r := range result.Resolutions {
		fmt.Fprintf(w, "%-20s %-20s %s\n", r.Original, dash(r.Path), r.Outcome)
	}
}

// PrintQuiet outputs only the device paths, one per line
func PrintQuiet(w io.Writer, result *ephemeral.Result) {
	for _, device := range result.Devices {
		fmt.Fprintln(w, device)
	}
}

// PrintInventory outputs guest block devices as a table
func PrintInventory(w io.Writer, devices []*collector.BlockDevice) {
	fmt.Fprintf(w, "%-10s %-10s %-4s %-4s %-20s %s\n", "NAME", "SIZE", "RM", "RO", "MODEL", "BY-ID")
	fmt.Fprintln(w, strings.Repeat("-", 75))

	for _, dev := range devices {
		size := "-"
		if dev.SizeBytes != nil {
			size = humanize.IBytes(uint64(*dev.SizeBytes))
		}
		model := "-"
		if dev.Model != nil {
			model = *dev.Model
		}
		fmt.Fprintf(w, "%-10s %-10s %-4s %-4s %-20s %s\n",
			dev.Name, size, yesNo(dev.Removable), yesNo(dev.ReadOnly), model, dash(strings.Join(dev.ByID, ",")))
	}
}

// PrintRuns outputs recorded runs, newest first
func PrintRuns(w io.Writer, runs []*db.Run, now time.Time) {
	fmt.Fprintf(w, "%-36s %-10s %-6s %-7s %-16s %s\n", "RUN", "CLOUD", "HV", "DEVICES", "WHEN", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	for _, run := range runs {
		fmt.Fprintf(w, "%-36s %-10s %-6s %-7d %-16s %s\n",
			run.UUID, run.Cloud, run.Hypervisor, run.DeviceCount,
			humanize.RelTime(run.CreatedAt, now, "ago", "from now"), dash(run.Error))
	}
}

// PrintRun outputs one recorded run with its devices
func PrintRun(w io.Writer, run *db.Run) {
	fmt.Fprintf(w, "Run:        %s\n", run.UUID)
	fmt.Fprintf(w, "Cloud:      %s\n", run.Cloud)
	fmt.Fprintf(w, "Hypervisor: %s\n", run.Hypervisor)
	fmt.Fprintf(w, "Strict:     %t\n", run.Strict)
	if run.InventorySource != "" {
		fmt.Fprintf(w, "Inventory:  %s\n", run.InventorySource)
	}
	fmt.Fprintf(w, "Recorded:   %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", run.Error)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-4s %-45s %-20s %s\n", "#", "DETECTED", "DEVICE", "OUTCOME")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, dev := range run.Devices {
		fmt.Fprintf(w, "%-4d %-45s %-20s %s\n", dev.Position, dev.OriginalPath, dash(dev.FinalPath), dev.Outcome)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
