package contextbuild

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fpt/klein-dm/pkg/turn"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func escape(s string) string { return textEscaper.Replace(s) }
func attr(s string) string   { return attrEscaper.Replace(s) }

// writeTurnLog renders one turn of the ancestor chain. New input of the
// active turn is left out because it is rendered under <new_messages>.
func writeTurnLog(b *strings.Builder, t turn.Context, isActive bool) {
	pad := strings.Repeat("  ", t.Level)
	fmt.Fprintf(b, "%s<turn_log id=\"%s\" level=\"%d\" participant=\"%s\">\n", pad, attr(t.ID), t.Level, attr(t.ActiveParticipant))
	for _, m := range t.Messages {
		if isActive && m.IsLive() && !m.Responded {
			continue
		}
		if m.IsCondensed() {
			fmt.Fprintf(b, "%s  <message speaker=\"%s\" kind=\"condensed\">\n", pad, attr(m.Origin))
			for _, line := range strings.Split(m.Content, "\n") {
				fmt.Fprintf(b, "%s    %s\n", pad, escape(line))
			}
			fmt.Fprintf(b, "%s  </message>\n", pad)
			continue
		}
		fmt.Fprintf(b, "%s  <message speaker=\"%s\" kind=\"live\">%s</message>\n", pad, attr(m.Speaker), escape(m.Content))
	}
	fmt.Fprintf(b, "%s</turn_log>\n", pad)
}

func writeNewMessages(b *strings.Builder, msgs []turn.Message) {
	if len(msgs) == 0 {
		return
	}
	b.WriteString("<new_messages>\n")
	for _, m := range msgs {
		fmt.Fprintf(b, "<message speaker=\"%s\">%s</message>\n", attr(m.Speaker), escape(m.Content))
	}
	b.WriteString("</new_messages>\n")
}

func writeKnownRules(b *strings.Builder, cache map[string]turn.CacheEntry) {
	if len(cache) == 0 {
		return
	}
	keys := make([]string, 0, len(cache))
	for k := range cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("<known_rules>\n")
	for _, k := range keys {
		e := cache[k]
		fmt.Fprintf(b, "<rule key=\"%s\" type=\"%s\">%s</rule>\n", attr(k), attr(e.Type), escape(e.Value))
	}
	b.WriteString("</known_rules>\n")
}
