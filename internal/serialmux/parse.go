package serialmux

import "strings"

const (
	LineTypeReading = "reading"
	LineTypeComment = "comment"
	LineTypeStatus  = "status"
	LineTypeEmpty   = "empty"
)

// ClassifyLine returns a coarse type for a line from the board. Readings
// start with the numeric timestamp, comments with '#'. Anything else is a
// status or log line from the firmware. The classification does not
// validate readings; that is left to the parser.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineTypeEmpty
	case line[0] == '#':
		return LineTypeComment
	case line[0] >= '0' && line[0] <= '9':
		return LineTypeReading
	default:
		return LineTypeStatus
	}
}
