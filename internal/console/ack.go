package console

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lukeb-aidev/cohesix-sub003/internal/coherr"
)

// End is the literal line that terminates every streamed response (spec
// §4.6, §6).
const End = "END"

// FormatOK renders a success acknowledgement: `OK <VERB> [k=v ...]`. Keys
// are sorted so the same Fields map always renders identically.
func FormatOK(verb string, fields map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK %s", strings.ToUpper(verb))
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, " %s=%s", k, fields[k])
	}
	return b.String()
}

// FormatErr renders a failure acknowledgement: `ERR <VERB> reason=<reason>
// [detail=...]`. reason is the error's explicit Reason when set (spec
// §4.7/§8: "outstanding-leases", "policy"), otherwise its Tag.
func FormatErr(verb string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ERR %s reason=%s", strings.ToUpper(verb), coherr.ReasonOf(err))
	if e, ok := coherr.As(err); ok && e.Detail != "" {
		fmt.Fprintf(&b, " detail=%s", e.Detail)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
