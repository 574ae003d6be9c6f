package hostinfo

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultProcessLimit is the number of processes returned when no limit is given.
const DefaultProcessLimit = 20

// Process is one running process.
type Process struct {
	PID     int    `json:"pid"`
	User    string `json:"user"`
	RSSKB   uint64 `json:"rss_kb"`
	Command string `json:"command"`
}

// ListProcesses returns running processes sorted by resident memory,
// largest first. A limit of zero or less returns every process.
func ListProcesses(ctx context.Context, limit int) ([]Process, error) {
	var (
		procs []Process
		err   error
	)
	if goos == "windows" {
		procs, err = listWindowsProcesses(ctx)
	} else {
		procs, err = listUnixProcesses(ctx)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].RSSKB > procs[j].RSSKB })
	if limit > 0 && len(procs) > limit {
		procs = procs[:limit]
	}
	return procs, nil
}

func listUnixProcesses(ctx context.Context) ([]Process, error) {
	out, err := runCommandFn(ctx, "ps", "-axo", "pid=,user=,rss=,comm=")
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	return parsePS(string(out)), nil
}

func parsePS(out string) []Process {
	var procs []Process
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		rss, _ := strconv.ParseUint(fields[2], 10, 64)
		procs = append(procs, Process{
			PID:     pid,
			User:    fields[1],
			RSSKB:   rss,
			Command: strings.Join(fields[3:], " "),
		})
	}
	return procs
}

func listWindowsProcesses(ctx context.Context) ([]Process, error) {
	out, err := runCommandFn(ctx, "tasklist", "/v", "/fo", "csv", "/nh")
	if err != nil {
		return nil, fmt.Errorf("tasklist: %w", err)
	}
	return parseTasklist(out)
}

// parseTasklist reads `tasklist /v /fo csv /nh` rows:
// image, pid, session, session#, mem usage, status, user, cpu time, title.
func parseTasklist(out []byte) ([]Process, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tasklist: %w", err)
	}
	procs := make([]Process, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		pid, err := strconv.Atoi(row[1])
		if err != nil {
			continue
		}
		mem := strings.NewReplacer(",", "", ".", "", " K", "", "K", "").Replace(strings.TrimSpace(row[4]))
		rss, _ := strconv.ParseUint(strings.TrimSpace(mem), 10, 64)
		user := row[6]
		if _, name, ok := strings.Cut(user, `\`); ok {
			user = name
		}
		procs = append(procs, Process{PID: pid, User: user, RSSKB: rss, Command: row[0]})
	}
	return procs, nil
}
