package serialmux

import (
	"slices"
	"strings"
)

// allowedCommands are the commands the debug console may send to the
// board.
var allowedCommands = []string{
	"ping",   // board answers "pong" on its status line
	"reboot", // restart the board; the stream resumes after boot
}

// IsAllowedCommand reports whether command may be sent from the console.
func IsAllowedCommand(command string) bool {
	return slices.Contains(allowedCommands, strings.ToLower(strings.TrimSpace(command)))
}
