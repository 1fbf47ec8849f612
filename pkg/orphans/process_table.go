package orphans

import (
	"github.com/shirou/gopsutil/process"
)

// SystemProcessTable reads the host process table through gopsutil
type SystemProcessTable struct{}

func NewSystemProcessTable() *SystemProcessTable {
	return &SystemProcessTable{}
}

// List returns every process whose command line and working directory can
// be read. Processes owned by other users are usually skipped.
func (t *SystemProcessTable) List() ([]ProcessInfo, error) {
	pids, err := process.Pids()
	if err != nil {
		return nil, err
	}

	infos := make([]ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		info, err := t.Get(int(pid))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (t *SystemProcessTable) Get(pid int) (ProcessInfo, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessInfo{}, err
	}
	cmdline, err := proc.CmdlineSlice()
	if err != nil {
		return ProcessInfo{}, err
	}
	cwd, err := proc.Cwd()
	if err != nil {
		return ProcessInfo{}, err
	}
	return ProcessInfo{
		Pid:     pid,
		Cmdline: cmdline,
		Cwd:     cwd,
	}, nil
}

func (t *SystemProcessTable) Kill(pid int) error {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return proc.Kill()
}
