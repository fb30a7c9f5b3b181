// Package sysmon finds the processes that still hold a session's files
// open, which means sudo is still recording it.
package sysmon

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo describes a process with an open session file.
type ProcessInfo struct {
	PID        int32
	Name       string
	Cmdline    string
	Username   string
	CreateTime time.Time
	// Files are the open files below the session directory.
	Files []string
}

// Writers returns the processes which have a file below dir open, ordered
// by PID. Processes whose file table cannot be read (other users, when not
// running as root) are skipped.
func Writers(ctx context.Context, dir string) ([]*ProcessInfo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	prefix := abs + string(filepath.Separator)

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get processes: %w", err)
	}

	var writers []*ProcessInfo
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue
		}
		var matched []string
		for _, f := range files {
			if strings.HasPrefix(f.Path, prefix) {
				matched = append(matched, f.Path)
			}
		}
		if len(matched) == 0 {
			continue
		}
		info := fetchProcessInfo(ctx, p)
		info.Files = matched
		writers = append(writers, info)
	}

	slices.SortFunc(writers, func(a, b *ProcessInfo) int {
		return int(a.PID - b.PID)
	})
	return writers, nil
}

// fetchProcessInfo reads what it can; any field may stay empty for a
// process that exits meanwhile.
func fetchProcessInfo(ctx context.Context, p *process.Process) *ProcessInfo {
	info := &ProcessInfo{PID: p.Pid}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}
	if username, err := p.UsernameWithContext(ctx); err == nil {
		info.Username = username
	}
	if createTime, err := p.CreateTimeWithContext(ctx); err == nil {
		info.CreateTime = time.UnixMilli(createTime)
	}
	return info
}
