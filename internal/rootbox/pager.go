package rootbox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// showLog prints text to out, or opens a scrollable viewer when stdout is a
// terminal and the text does not fit on one screen.
func showLog(out io.Writer, title, text string) error {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	fd := int(os.Stdout.Fd())
	if out != os.Stdout || !term.IsTerminal(fd) {
		_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
		return err
	}
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-2 {
		_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
		return err
	}
	return runPager(title, lines)
}

func runPager(title string, lines []string) error {
	app := tview.NewApplication()

	view := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	view.SetBorder(true).SetTitle(" " + title + " ")
	fmt.Fprint(tview.ANSIWriter(view), strings.Join(lines, "\n"))
	// Failures are at the bottom of the output.
	view.ScrollToEnd()

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]↑/↓ PgUp/PgDn Home/End to scroll, 'q' or Esc to quit[white]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(view, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEsc, event.Key() == tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case event.Key() == tcell.KeyRune && event.Rune() == 'q':
			app.Stop()
			return nil
		}
		return event
	})

	if err := app.SetRoot(layout, true).SetFocus(view).Run(); err != nil {
		return fmt.Errorf("log viewer failed: %w", err)
	}
	return nil
}
