// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lavastorm/lavastorm/internal/job"
)

// openLavaSubmitRe matches bsub's success line, e.g. "Job <1234> is
// submitted to default queue <normal>.".
var openLavaSubmitRe = regexp.MustCompile(`Job <(\d+)> is submitted to`)

// sgeSubmitRe matches qsub's success line for both single and array jobs,
// e.g. "Your job 1234 (\"name\") has been submitted" or
// "Your job-array 1234.1-4:1 (\"name\") has been submitted".
var sgeSubmitRe = regexp.MustCompile(`Your job(-array)? (\d+).* has been submitted`)

// parseOpenLavaSubmit extracts the job id bsub reported, or a plain
// (unclassified) error if the output doesn't match the expected pattern.
func parseOpenLavaSubmit(stdout string) (int64, error) {
	m := openLavaSubmitRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, fmt.Errorf("unrecognized bsub output: %q", strings.TrimSpace(stdout))
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable job id in bsub output: %w", err)
	}
	return id, nil
}

// parseSGESubmit extracts the job id qsub reported.
func parseSGESubmit(stdout string) (int64, error) {
	m := sgeSubmitRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, fmt.Errorf("unrecognized qsub output: %q", strings.TrimSpace(stdout))
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable job id in qsub output: %w", err)
	}
	return id, nil
}

// openLavaBjobsRow is one parsed line from `bjobs -w -a <id>` tabular
// output: JOBID USER STAT QUEUE FROM_HOST EXEC_HOST JOB_NAME SUBMIT_TIME.
// Array tasks render JOBID as "<id>[<index>]".
type openLavaBjobsRow struct {
	JobID      int64
	ArrayIndex int
	State      string
}

var openLavaJobIDRe = regexp.MustCompile(`^(\d+)(?:\[(\d+)\])?$`)

// parseBjobsOutput parses the tabular output of `bjobs -w -a`, skipping the
// header line.
func parseBjobsOutput(stdout string) ([]openLavaBjobsRow, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	var rows []openLavaBjobsRow
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header row
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		m := openLavaJobIDRe.FindStringSubmatch(fields[0])
		if m == nil {
			continue
		}
		jobID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		arrayIndex := 0
		if m[2] != "" {
			arrayIndex, _ = strconv.Atoi(m[2])
		}
		rows = append(rows, openLavaBjobsRow{JobID: jobID, ArrayIndex: arrayIndex, State: fields[2]})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no job rows found in bjobs output")
	}
	return rows, nil
}

// sgeJobList is the root element of `qstat -g d -xml` output.
type sgeJobList struct {
	XMLName  xml.Name   `xml:"job_info"`
	QueueJobs []sgeJob  `xml:"queue_info>job_list"`
	Pending  []sgeJob   `xml:"job_info>job_list"`
}

type sgeJob struct {
	JobNumber int64  `xml:"JB_job_number"`
	State     string `xml:"state"`
	Tasks     string `xml:"tasks"` // e.g. "1" or "1-4:1"
}

// parseQstatXML parses `qstat -g d -xml` and expands each job_list element
// into one row per task (a job with no <tasks> element is a single task
// with array index 0).
func parseQstatXML(data []byte) ([]openLavaBjobsRow, error) {
	var list sgeJobList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unparseable qstat XML output: %w", err)
	}
	var rows []openLavaBjobsRow
	all := append(append([]sgeJob{}, list.QueueJobs...), list.Pending...)
	for _, j := range all {
		indices := expandSGETasks(j.Tasks)
		if len(indices) == 0 {
			rows = append(rows, openLavaBjobsRow{JobID: j.JobNumber, ArrayIndex: 0, State: j.State})
			continue
		}
		for _, idx := range indices {
			rows = append(rows, openLavaBjobsRow{JobID: j.JobNumber, ArrayIndex: idx, State: j.State})
		}
	}
	return rows, nil
}

// expandSGETasks expands an SGE task range like "1-4:1" or a bare "3" into
// the list of array indices it names.
func expandSGETasks(tasks string) []int {
	tasks = strings.TrimSpace(tasks)
	if tasks == "" {
		return nil
	}
	step := 1
	rangePart := tasks
	if i := strings.Index(tasks, ":"); i >= 0 {
		rangePart = tasks[:i]
		if s, err := strconv.Atoi(tasks[i+1:]); err == nil && s > 0 {
			step = s
		}
	}
	start, end := rangePart, rangePart
	if i := strings.Index(rangePart, "-"); i >= 0 {
		start, end = rangePart[:i], rangePart[i+1:]
	}
	from, err1 := strconv.Atoi(start)
	to, err2 := strconv.Atoi(end)
	if err1 != nil || err2 != nil {
		return nil
	}
	var out []int
	for i := from; i <= to; i += step {
		out = append(out, i)
	}
	return out
}

// parseQacctOutput parses `qacct -j N -t I` key-value output into the
// fields needed to classify a finished job.
func parseQacctOutput(stdout string) (exitStatus int, failed string, err error) {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key, value := fields[0], strings.Join(fields[1:], " ")
		switch key {
		case "exit_status":
			exitStatus, _ = strconv.Atoi(value)
		case "failed":
			failed = value
		}
	}
	return exitStatus, failed, nil
}

// rowsToViews converts parsed backend rows into job.Views using the given
// normalizer and kill function factory.
func rowsToViews(rows []openLavaBjobsRow, normalize func(state string) job.Flags, killFor func(jobID int64, arrayIndex int) job.KillFunc) []job.View {
	views := make([]job.View, 0, len(rows))
	for _, r := range rows {
		flags := normalize(r.State)
		views = append(views, job.NewView(r.JobID, r.ArrayIndex, flags, killFor(r.JobID, r.ArrayIndex)))
	}
	return views
}
