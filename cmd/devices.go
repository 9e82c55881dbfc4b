package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool
	var device string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and their preview sizes",
		Long: `Lists V4L2 capture devices with every output size they offer and the preview size ` +
			`the capture session would choose. Pass --device test to probe the synthetic test device.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			logger := logging.GetLogger("capture")

			var reports []capture.DeviceReport
			if device != "" {
				dev, err := capture.NewDevice(capture.DeviceOptions{Device: device, Logger: logger})
				if err != nil {
					return err
				}
				reports = []capture.DeviceReport{capture.Probe(c.Context(), dev)}
			} else {
				var err error
				reports, err = capture.ProbeDevices(c.Context(), logger)
				if err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			return printDeviceReports(reports)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().StringVar(&device, "device", "", "Probe a single device (test, lavfi or /dev/videoN)")

	return cmd
}

func printDeviceReports(reports []capture.DeviceReport) error {
	if len(reports) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tNAME\tSIZES\tCHOSEN")
	for _, r := range reports {
		chosen := "-"
		if r.Chosen != nil {
			chosen = r.Chosen.String()
		}
		sizes := fmt.Sprintf("%d", len(r.Sizes))
		if r.Error != "" {
			sizes = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Path, r.Name, sizes, chosen)
	}
	return w.Flush()
}
