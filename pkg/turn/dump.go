package turn

import (
	"fmt"
	"strings"
)

// Dump renders a snapshot as an indented listing of levels, turns and
// messages, top of the stack last. Each message carries its kind and speaker.
func Dump(s Snapshot) string {
	if s.Empty() {
		return "(turn stack is empty)\n"
	}
	var b strings.Builder
	for i, q := range s.Levels {
		fmt.Fprintf(&b, "Level %d (%d queued)\n", i, len(q))
		for j, t := range q {
			state := ""
			if j == 0 {
				state = " [active]"
				if i < len(s.Levels)-1 {
					state = " [suspended]"
				}
			}
			fmt.Fprintf(&b, "  Turn %s%s participant=%s", t.ID, state, orDash(t.ActiveParticipant))
			if t.StepObjective != "" {
				fmt.Fprintf(&b, " objective=%q", t.StepObjective)
			}
			b.WriteByte('\n')
			for _, m := range t.Messages {
				mark := ""
				if m.IsLive() && !m.Responded {
					mark = "*"
				}
				fmt.Fprintf(&b, "    - [%s%s] %s: %s\n", m.Kind, mark, m.Speaker, oneLine(m.Content))
			}
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
