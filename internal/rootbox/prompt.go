package rootbox

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// askForConfirmation reads y/n answers from in until one is valid.
// An empty answer means yes; EOF means no.
func askForConfirmation(in io.Reader, p colorPrinter, format string, a ...any) bool {
	reader := bufio.NewReader(in)
	prompt := fmt.Sprintf("%s [Y/n]: ", fmt.Sprintf(format, a...))

	for {
		cPrintf(p, "%s", prompt)
		response, err := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if err != nil && response == "" {
			return false
		}

		switch response {
		case "", "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}
