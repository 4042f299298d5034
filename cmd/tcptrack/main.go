package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mel2oo/tcptrack"
	"github.com/mel2oo/tcptrack/capture"
)

// Sentinel NoOptDefVal for the debug flags: set, but no logs echoed.
const noEcho = "-"

var (
	filterFlag    string
	debugFlag     string
	debugTruncate string
	sweepInterval int
	analyzersFlag string
	ifaceFlag     string
	fileFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "tcptrack",
	Short: "Passive TCP flow tracker with TLS handshake analysis",
	Long: "tcptrack observes TCP traffic on a live interface or from a pcap file,\n" +
		"tracks every flow's state, reassembles both byte streams and feeds them\n" +
		"to protocol analyzers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&filterFlag, "filter", "f", capture.DefaultBPFilter, "capture filter expression")
	flags.StringVarP(&debugFlag, "debug", "d", "", "enable debug logs; optional comma-list of log names to echo to stdout")
	flags.StringVarP(&debugTruncate, "debug-truncate", "D", "", "as -d, plus truncate existing log files at start")
	flags.IntVarP(&sweepInterval, "cleanup-interval", "c", 5, "sweeper interval in seconds")
	flags.StringVarP(&analyzersFlag, "analyzers", "a", "reassm,tls", "comma-separated analyzer names to enable per flow")
	flags.StringVarP(&ifaceFlag, "interface", "i", "", "interface to capture on")
	flags.StringVarP(&fileFlag, "read-file", "r", "", "read packets from a pcap file instead of an interface")

	flags.Lookup("debug").NoOptDefVal = noEcho
	flags.Lookup("debug-truncate").NoOptDefVal = noEcho
}

func splitNames(list string) []string {
	if list == "" || list == noEcho {
		return nil
	}
	var out []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func run(cmd *cobra.Command, _ []string) error {
	readName := ifaceFlag
	live := true
	if fileFlag != "" {
		readName = fileFlag
		live = false
	}
	if readName == "" {
		return fmt.Errorf("one of --interface or --read-file is required")
	}

	debug := cmd.Flags().Changed("debug") || cmd.Flags().Changed("debug-truncate")
	printOut := splitNames(debugFlag)
	printOut = append(printOut, splitNames(debugTruncate)...)

	cfg := tcptrack.Config{
		Capture: []capture.Option{
			capture.WithReadName(readName, live),
			capture.WithBPF(filterFlag),
		},
		SweeperInterval: time.Duration(sweepInterval) * time.Second,
		Analyzers:       splitNames(analyzersFlag),
		Debug:           debug,
		TruncateLogs:    cmd.Flags().Changed("debug-truncate"),
		PrintOutLogs:    printOut,
		StartupMessage: fmt.Sprintf(
			"starting tcp state tracking on %s with filter %q (debug %s, cleanup interval %d s)",
			readName, filterFlag, onOff(debug), sweepInterval),
	}

	tracker, err := tcptrack.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(cfg.StartupMessage)
	return tracker.Run(ctx)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
