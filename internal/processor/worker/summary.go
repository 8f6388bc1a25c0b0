/*
Copyright 2026 The redact-go Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package worker

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// maxFailureRows bounds the failure table; the rest is only counted.
const maxFailureRows = 50

// RenderSummary writes the counts of a run followed by a table of failed items.
func RenderSummary(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "%s %s, %s, %s, %s in %s\n",
		color.New(color.Bold).Sprintf("%d files:", s.Total),
		color.GreenString("%d done", s.Succeeded),
		color.CyanString("%d skipped", s.Skipped),
		failedString(s.Failed),
		color.YellowString("%d cancelled", s.Cancelled),
		s.Duration.Round(time.Millisecond),
	)
	if len(s.Failures) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "File", "Job", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for i, r := range s.Failures {
		if i == maxFailureRows {
			break
		}
		job := ""
		if r.Handle.OutputID != "" {
			job = r.Handle.String()
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		table.Append([]string{strconv.Itoa(i + 1), r.Item.RelPath, job, errText})
	}
	table.Render()
	if n := len(s.Failures) - maxFailureRows; n > 0 {
		fmt.Fprintf(w, "... and %d more failures\n", n)
	}
}

func failedString(n int) string {
	if n == 0 {
		return fmt.Sprintf("%d failed", n)
	}
	return color.RedString("%d failed", n)
}
