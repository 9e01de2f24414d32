package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/powerdown/pkg/engine"
)

// stdout is where command results go. Logs go to stderr.
var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
}

func printReport(report *engine.Report) error {
	if jsonOutput {
		return printJSON(report)
	}

	fmt.Fprintf(stdout, "Run:         %s\n", report.RunID)
	fmt.Fprintf(stdout, "Outcome:     %s\n", report.Outcome)
	if report.DryRun {
		fmt.Fprintln(stdout, "Mode:        dry-run")
	}
	fmt.Fprintf(stdout, "Duration:    %s\n", report.Duration)
	fmt.Fprintf(stdout, "Excluded:    %d\n", len(report.Exclusions))
	if report.AppsSkipped {
		fmt.Fprintln(stdout, "Apps:        skipped")
	} else {
		fmt.Fprintf(stdout, "Apps:        %d\n", len(report.Apps))
	}
	fmt.Fprintf(stdout, "Attempts:    %d (%d rounds)\n", report.Attempts, report.Rounds)
	if len(report.Remaining) > 0 {
		fmt.Fprintf(stdout, "Remaining:   %s\n", strings.Join(report.Remaining, ", "))
	}
	if report.Error != nil {
		fmt.Fprintf(stdout, "Error:       [%s/%s] %s\n", report.Error.Class, report.Error.Phase, report.Error.Message)
	}

	if len(report.Commands) > 0 {
		fmt.Fprintln(stdout)
		w := newTable()
		fmt.Fprintln(w, "ATTEMPT\tKIND\tEXIT\tCOMMAND")
		for _, c := range report.Commands {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", c.Attempt, c.Kind, c.ExitCode, c.Command)
		}
		return w.Flush()
	}
	return nil
}

func printExclusions(set *engine.ExclusionSet) error {
	if jsonOutput {
		return printJSON(set)
	}

	w := newTable()
	fmt.Fprintln(w, "NAME\tREASON")
	for _, e := range set.Entries() {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\n%d VM(s) excluded\n", set.Len())
	return nil
}

func printApps(apps []engine.AppInstance) error {
	if jsonOutput {
		return printJSON(apps)
	}

	if len(apps) == 0 {
		fmt.Fprintln(stdout, "No applications found")
		return nil
	}

	w := newTable()
	fmt.Fprintln(w, "NAME\tUUID\tSTATE\tOUTCOME\tERROR")
	for _, a := range apps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Name, a.UUID, a.State, a.Outcome, a.Error)
	}
	return w.Flush()
}

func printInventory(inv *engine.Inventory) error {
	if jsonOutput {
		return printJSON(inv)
	}

	if inv.Cluster != nil {
		fmt.Fprintf(stdout, "Cluster: %s (%s), %d node(s)\n\n", inv.Cluster.Name, inv.Cluster.Version, inv.Cluster.NumNodes)
	}

	w := newTable()
	fmt.Fprintln(w, "HOST\tHYPERVISOR\tCVM BACKPLANE\tIPMI")
	for _, h := range inv.Hosts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Name, h.HypervisorAddress, h.ControllerVMBackplaneIP, h.IPMIAddress)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(stdout)
	w = newTable()
	fmt.Fprintln(w, "VM\tPOWER\tIPS")
	for _, vm := range inv.VMs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", vm.Name, vm.PowerState, strings.Join(vm.IPs(), ","))
	}
	return w.Flush()
}
