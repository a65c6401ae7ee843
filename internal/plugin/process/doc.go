// Package process runs child processes on behalf of extensions.
//
// Extensions start two kinds of process. Background processes are started
// with Supervisor.Start; their output is logged and the extension can poll or
// kill them by id. Captured processes are started with Supervisor.Run; their
// stdout, stderr and exit code are handed to a callback when they exit:
//
//	proc, err := supervisor.Run(process.Spec{Command: "git", Args: []string{"status"}},
//	    func(p *process.Process) {
//	        out := p.Output()
//	        fmt.Println(out.ExitCode, out.Stdout)
//	    })
//
// Ids are assigned from a per-supervisor counter. Shutdown sends SIGTERM,
// waits for the given timeout, then kills whatever is left.
package process
