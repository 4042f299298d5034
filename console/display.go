// Package console renders a debounced status table of the newest flows,
// redrawn in place on stdout.
package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/logrusorgru/aurora"

	"github.com/mel2oo/tcptrack/conn"
)

const (
	idWidth    = 6
	addrWidth  = 24
	stateWidth = 26

	maxRows = 10
)

// Display overwrites its previous output with ANSI cursor movement, so the
// table appears to update in place.
type Display struct {
	debounce       time.Duration
	startupMessage string
	color          aurora.Aurora

	lastPrint     time.Time
	lastLineCount int
}

func New(debounce time.Duration, startupMessage string, colorize bool) *Display {
	return &Display{
		debounce:       debounce,
		startupMessage: startupMessage,
		color:          aurora.NewAurora(colorize),
		// Let the first update draw immediately.
		lastPrint: time.Now().Add(-debounce),
	}
}

// Update redraws the table if the debounce interval has passed.
func (d *Display) Update(connections []*conn.Connection) {
	now := time.Now()
	if now.Sub(d.lastPrint) < d.debounce {
		return
	}
	d.printTable(connections)
	d.lastPrint = now
}

func (d *Display) printTable(connections []*conn.Connection) {
	if d.lastLineCount > 0 {
		fmt.Printf("\033[%dA", d.lastLineCount)
	}

	fmt.Println(d.startupMessage)
	fmt.Printf("Latest %d Active TCP Connections:\n", maxRows)
	fmt.Printf("%-*s%-*s%-*s%-*s\n", idWidth, "ID", addrWidth, "SRC", addrWidth, "DST", stateWidth, "State")
	fmt.Println(strings.Repeat("-", idWidth+2*addrWidth+stateWidth))

	lines := 4
	for i, c := range connections {
		if i >= maxRows {
			break
		}
		key := c.Key()
		client, server := c.States()
		state := fmt.Sprintf("%s/%s", d.colorState(client), d.colorState(server))
		fmt.Printf("%-*d%-*s%-*s%-*s\n",
			idWidth, c.ID(),
			addrWidth, fmt.Sprintf("%s:%d", key.SrcIP, key.SrcPort),
			addrWidth, fmt.Sprintf("%s:%d", key.DstIP, key.DstPort),
			stateWidth, state)
		lines++
	}

	// Blank out leftovers from a taller previous table.
	for printed := lines; printed < d.lastLineCount; printed++ {
		fmt.Println(strings.Repeat(" ", idWidth+2*addrWidth+stateWidth))
		lines++
	}
	d.lastLineCount = lines
}

func (d *Display) colorState(s conn.TCPState) string {
	switch s {
	case conn.StateEstablished:
		return d.color.Green(s.String()).String()
	case conn.StateClosed, conn.StateTimeWait:
		return d.color.Red(s.String()).String()
	case conn.StateSynSent, conn.StateSynReceived, conn.StateListen:
		return d.color.Yellow(s.String()).String()
	default:
		return d.color.Cyan(s.String()).String()
	}
}
