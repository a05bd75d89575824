package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"judgecore/internal/judge"
	"judgecore/internal/judge/report"
	"judgecore/internal/sandbox/result"

	"github.com/fatih/color"
)

// prettyOut receives --pretty summaries; stdout carries only JSON lines.
var prettyOut io.Writer = os.Stderr

func verdictColor(v result.Verdict) *color.Color {
	switch v {
	case result.Accepted:
		return color.New(color.FgGreen, color.Bold)
	case result.WrongAnswer:
		return color.New(color.FgRed, color.Bold)
	case result.TimeLimitExceeded, result.MemoryLimitExceeded, result.OutputLimitExceeded:
		return color.New(color.FgYellow, color.Bold)
	case result.RuntimeError:
		return color.New(color.FgMagenta, color.Bold)
	case result.CompileError:
		return color.New(color.FgCyan, color.Bold)
	default:
		return color.New(color.FgHiRed, color.Bold)
	}
}

func (a *app) printEnvelope(name string, env report.Envelope) {
	if !a.pretty {
		return
	}
	if env.Success {
		color.New(color.FgGreen, color.Bold).Fprintf(prettyOut, "%s ok", name)
		fmt.Fprintf(prettyOut, " %s (%d ms)\n", env.Output, env.Runtime)
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(prettyOut, "%s failed", name)
	if env.Error != nil {
		fmt.Fprintf(prettyOut, " %s", *env.Error)
	}
	fmt.Fprintf(prettyOut, " (%d ms)\n", env.Runtime)
}

func (a *app) printPayload(caseID string, p report.Payload) {
	if !a.pretty {
		return
	}
	fmt.Fprintf(prettyOut, "case %-6s ", caseID)
	verdictColor(p.Verdict).Fprintf(prettyOut, "%-4s", p.Verdict.Short())
	fmt.Fprintf(prettyOut, " %6d ms %8d KiB", p.RuntimeMs, p.MemoryBytes/1024)
	if p.Verdict != result.Accepted && p.Message != "" {
		fmt.Fprintf(prettyOut, "  %s", firstLine(p.Message))
	}
	fmt.Fprintln(prettyOut)
}

func (a *app) printSummary(sum judge.Summary) {
	if !a.pretty {
		return
	}
	for _, o := range sum.Cases {
		if o.Payload == nil {
			fmt.Fprintf(prettyOut, "case %-6s ", o.ID)
			color.New(color.FgHiBlack).Fprintln(prettyOut, "skipped")
			continue
		}
		a.printPayload(o.ID, *o.Payload)
	}
	verdictColor(sum.Verdict).Fprintf(prettyOut, "%s", report.Title(sum.Verdict))
	fmt.Fprintf(prettyOut, "  %d/%d passed, %d ms total, %d KiB peak\n",
		sum.Passed, sum.Total, sum.TotalRuntimeMs, sum.MaxMemoryBytes/1024)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
