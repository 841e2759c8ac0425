package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/blecast/internal/device"
	"github.com/srg/blecast/internal/observe"
)

const promptLine = "Enter a device number to connect, 's' to rescan, 'q' to quit."

// palette colours terminal output. All colours are disabled for non-terminals.
type palette struct {
	ok    *color.Color
	warn  *color.Color
	fail  *color.Color
	label *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		ok:    color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed),
		label: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.ok, p.warn, p.fail, p.label} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderState prints one interactive view of the surface state.
func renderState(w io.Writer, st observe.State, p *palette) {
	power := p.fail.Sprint("off")
	if st.Powered {
		power = p.ok.Sprint("on")
	}
	fmt.Fprintf(w, "%s %s, %s\n", p.label.Sprint("Bluetooth:"), power, st.Phase)

	if len(st.DeviceNames) == 0 {
		fmt.Fprintln(w, "  (no devices)")
	}
	for i, name := range st.DeviceNames {
		fmt.Fprintf(w, "  [%d] %s\n", i, name)
	}

	if st.Connected {
		fmt.Fprintf(w, "%s %s\n", p.label.Sprint("Connected:"), p.ok.Sprint(st.ConnectedName))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", p.label.Sprint("Error:"), p.warn.Sprint(st.LastError))
	}
	fmt.Fprintln(w, promptLine)
}

// scanEntry is the JSON shape of a discovered device.
type scanEntry struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

func displayDevicesTable(w io.Writer, devices []device.Device) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tADDRESS\tRSSI")

	for i, d := range devices {
		name := d.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d dBm\n", i, name, d.ID, d.RSSI)
	}
	return tw.Flush()
}

func displayDevicesJSON(w io.Writer, devices []device.Device) error {
	entries := make([]scanEntry, len(devices))
	for i, d := range devices {
		entries[i] = scanEntry{
			Index:   i,
			Name:    d.DisplayName(),
			Address: d.ID,
			RSSI:    d.RSSI,
		}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
