package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/orchestrator"
)

const (
	colorFaint  = "\x1b[90m"
	colorCyan   = "\x1b[36m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

const splashArt = `      /\
     /  \
    / 20 \
   /______\
   \  /\  /
    \/  \/`

// terminalWidth returns the width of stdout, or 80 when it is not a terminal
func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// WriteSplashScreen writes the title block with the die art beside it,
// centered in width columns. Narrow terminals get the logo only.
func WriteSplashScreen(w io.Writer, width int, colored bool) {
	if w == nil {
		return
	}
	logo := []string{"KLEIN DM", "Turn-based Game Master"}
	art := strings.Split(splashArt, "\n")

	logoWidth := maxRuneLen(logo)
	artWidth := maxRuneLen(art)
	gap := 3

	prefix, suffix := "", ""
	if colored {
		prefix, suffix = colorFaint, colorReset
	}

	if logoWidth+gap+artWidth > width {
		for _, l := range logo {
			fmt.Fprintf(w, "  %s%s%s\n", prefix, l, suffix)
		}
		fmt.Fprintln(w)
		return
	}

	indent := 2
	if pad := (width - logoWidth - gap - artWidth) / 2; pad > indent {
		indent = pad
	}
	top := (len(art) - len(logo)) / 2
	for i, right := range art {
		left := strings.Repeat(" ", logoWidth)
		if j := i - top; j >= 0 && j < len(logo) {
			left = padRight(logo[j], logoWidth)
		}
		fmt.Fprintf(w, "%s%s%s%s%s%s\n", strings.Repeat(" ", indent), prefix, left, strings.Repeat(" ", gap), right, suffix)
	}
	fmt.Fprintln(w)
}

// WriteResponseHeader writes the narrator header line for model
func WriteResponseHeader(w io.Writer, model string, colored bool) {
	if w == nil {
		return
	}
	if colored {
		fmt.Fprintf(w, "%s%s (%s)%s\n", colorCyan, "narrator", model, colorReset)
	} else {
		fmt.Fprintf(w, "%s (%s)\n", "narrator", model)
	}
}

// WriteResult prints one step: narration, state changes, who is awaited
// and any early-stop error.
func WriteResult(w io.Writer, res orchestrator.Result, colored bool) {
	for i, out := range res.Outputs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, out)
	}
	for _, d := range res.Deltas {
		fmt.Fprintln(w, paint(colorFaint, "  ~ "+FormatDelta(d), colored))
	}
	if a := res.Awaiting; a != nil && len(a.Characters) > 0 {
		line := "Waiting on " + strings.Join(a.Characters, ", ")
		if a.ResponseType != "" && a.ResponseType != domain.ResponseNone {
			line += " (" + strings.ReplaceAll(string(a.ResponseType), "_", " ") + ")"
		}
		if a.Prompt != "" {
			line += ": " + a.Prompt
		}
		fmt.Fprintln(w, paint(colorYellow, line, colored))
	}
	if res.Err != nil {
		fmt.Fprintln(w, paint(colorRed, orchestrator.SystemMessage(res.Err.Error()), colored))
	}
}

// FormatDelta renders a delta as "Goblin hp -7" or "Alice conditions = prone"
func FormatDelta(d domain.AttributeDelta) string {
	var s string
	if d.Op == domain.DeltaAdd {
		v := d.Value
		if !strings.HasPrefix(v, "-") && !strings.HasPrefix(v, "+") {
			v = "+" + v
		}
		s = fmt.Sprintf("%s %s %s", d.Character, d.Attribute, v)
	} else {
		s = fmt.Sprintf("%s %s = %s", d.Character, d.Attribute, d.Value)
	}
	if d.Reason != "" {
		s += " (" + d.Reason + ")"
	}
	return s
}

// fitWidth truncates every line of text to width runes
func fitWidth(text string, width int) string {
	if width <= 1 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if runeLen(l) > width {
			lines[i] = string([]rune(l)[:width-1]) + "…"
		}
	}
	return strings.Join(lines, "\n")
}

func paint(color, s string, colored bool) string {
	if !colored {
		return s
	}
	return color + s + colorReset
}

func maxRuneLen(lines []string) int {
	n := 0
	for _, l := range lines {
		if m := runeLen(l); m > n {
			n = m
		}
	}
	return n
}

// runeLen returns the number of runes in s.
func runeLen(s string) int { return utf8.RuneCountInString(s) }

// padRight pads s with spaces on the right to width runes.
func padRight(s string, width int) string {
	n := runeLen(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
