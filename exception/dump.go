package exception

import (
	"fmt"
	"io"
	"strings"
)

const (
	ansiRed   = "\x1b[31m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// Dump renders e and its full forward chain.
func (e *Exception) Dump() string {
	var b strings.Builder
	Fprint(&b, e, false)
	return b.String()
}

// Fprint writes e and every forwarded cause to w, optionally with ANSI
// colors.
func Fprint(w io.Writer, e *Exception, color bool) {
	paint := func(code, s string) string {
		if !color {
			return s
		}
		return code + s + ansiReset
	}
	for i, x := range e.Chain() {
		if i > 0 {
			fmt.Fprintln(w, paint(ansiDim, "forwarded from:"))
		}
		fmt.Fprintf(w, "%s %s\n", paint(ansiRed+ansiBold, "exception:"), x.Message)
		fmt.Fprintf(w, "  kind: %s\n", x.Kind)
		if x.File != "" {
			fmt.Fprintf(w, "  at: %s:%d\n", x.File, x.Line)
		}
		if x.class != nil {
			fmt.Fprintf(w, "  class: %s\n", x.class.describe(x.payload))
		}
		if x.cause != nil {
			fmt.Fprintf(w, "  error: %v\n", x.cause)
		}
		if len(x.Backtrace) > 0 {
			fmt.Fprintln(w, "  backtrace:")
			for _, f := range x.Backtrace {
				fmt.Fprintf(w, "    %s\n", paint(ansiDim, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line)))
			}
		}
	}
}
