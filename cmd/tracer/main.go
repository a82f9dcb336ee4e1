// Command tracer is the CLI front-end: it daemonizes tracerd for a new
// pipeline run, and otherwise forwards commands to an already-running
// daemon over its control socket.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"github.com/tracer-cloud/tracerd/internal/control"
)

// daemonChildEnvVar is the sentinel set on the re-exec'd child so it knows
// not to fork again; it carries no value, only presence.
const daemonChildEnvVar = "TRACERD_DAEMON_CHILD"

func main() {
	app := &cli.App{
		Name:  "tracer",
		Usage: "start and control the tracerd daemon",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "socket", Usage: "control socket path", Value: control.DefaultSocketPath},
		}, startFlags...),
		Action: startAction,
		Commands: []*cli.Command{
			infoCommand,
			reloadCommand,
			terminateCommand,
			installAliasCommand,
		},
		ExitErrHandler: exitErrHandler,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tracer:", err)
		os.Exit(1)
	}
}

// exitErrHandler preserves an error's intended exit code when it
// implements cli.ExitCoder, falling back to exit code 1 otherwise, so a
// failed control-socket round trip is distinguishable from a usage error.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		cli.HandleExitCoder(exitErr)
		return
	}

	fmt.Fprintln(os.Stderr, "tracer:", err)
	cli.OsExiter(1)
}

var startFlags = []cli.Flag{
	&cli.StringFlag{Name: "pipeline-name"},
	&cli.StringFlag{Name: "run-id"},
	&cli.StringFlag{Name: "tags", Usage: "comma-separated tags"},
}

// startAction is the root command: parse pipeline flags, daemonize, and
// hand off to cmd/tracerd, passing the run identity via environment
// variables the daemon reads on startup.
func startAction(c *cli.Context) error {
	if c.String("pipeline-name") == "" {
		return cli.ShowAppHelp(c)
	}

	if os.Getenv(daemonChildEnvVar) == "1" {
		return execTracerd(c)
	}
	return forkDaemon(c)
}

// forkDaemon double-forks: it launches a detached copy of this same binary
// with the sentinel env var set, redirecting its stdout/stderr to fixed
// log files, then returns immediately so the shell gets its prompt back.
func forkDaemon(c *cli.Context) error {
	self, err := os.Executable()
	if err != nil {
		return cli.Exit(fmt.Sprintf("resolve own executable: %v", err), 1)
	}

	outFile, err := os.OpenFile("/tmp/tracer.out", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open daemon stdout log: %v", err), 1)
	}
	defer outFile.Close()

	errFile, err := os.OpenFile("/tmp/tracer.err", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open daemon stderr log: %v", err), 1)
	}
	defer errFile.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnvVar+"=1")
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return cli.Exit(fmt.Sprintf("fork daemon: %v", err), 1)
	}

	fmt.Printf("tracerd started for pipeline %q (pid %d)\n", c.String("pipeline-name"), cmd.Process.Pid)
	return nil
}

// execTracerd replaces this already-detached process image with tracerd,
// carrying the run identity forward as environment variables tracerd
// reads at startup to open the initial run.
func execTracerd(c *cli.Context) error {
	tracerdPath, err := exec.LookPath("tracerd")
	if err != nil {
		return cli.Exit(fmt.Sprintf("locate tracerd on PATH: %v", err), 1)
	}

	env := append(os.Environ(),
		"TRACER_PIPELINE_NAME="+c.String("pipeline-name"),
		"TRACER_RUN_ID="+c.String("run-id"),
		"TRACER_TAGS="+c.String("tags"),
	)

	return syscall.Exec(tracerdPath, []string{tracerdPath}, env)
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "print the daemon's current state",
	Action: func(c *cli.Context) error {
		client := clientFromContext(c)
		resp, err := client.Send(control.CommandInfo)
		if err != nil {
			return cli.Exit(fmt.Sprintf("contact tracerd: %v", err), 2)
		}
		if !resp.OK {
			return cli.Exit(fmt.Sprintf("tracerd error: %s", resp.Error), 3)
		}
		printInfo(resp.Data)
		return nil
	},
}

var reloadCommand = &cli.Command{
	Name:  "reload",
	Usage: "ask the daemon to reload its configuration",
	Action: func(c *cli.Context) error { return sendSimple(c, control.CommandReload, "reload requested") },
}

var terminateCommand = &cli.Command{
	Name:  "terminate",
	Usage: "stop the active run and shut the daemon down",
	Action: func(c *cli.Context) error {
		return sendSimple(c, control.CommandTerminate, "terminate requested")
	},
}

var installAliasCommand = &cli.Command{
	Name:  "install-alias",
	Usage: "print a shell function that logs short-lived process invocations for rescue by the daemon",
	Action: func(c *cli.Context) error {
		fmt.Print(shortLivedAliasScript)
		return nil
	},
}

// shortLivedAliasScript wraps a named command so its start/end timestamps
// are appended as JSON lines to the file the daemon tails (internal/tail +
// internal/procwatch.IngestShortLived), rescuing processes too short-lived
// to be caught by polling, and so its merged stdout/stderr is also tailed
// (internal/tail + internal/procwatch.IngestOutputLine) for dataset
// references the process-scan's open-file inspection can miss. Appended
// once, by hand, to the user's shell rc.
const shortLivedAliasScript = `
tracer_rescue() {
  local cmd_name="$1"; shift
  local start_epoch
  start_epoch=$(date +%s.%N)
  "$cmd_name" "$@" > >(tee -a /tmp/tracerd-exec.out) 2> >(tee -a /tmp/tracerd-exec.out >&2)
  local status=$?
  local end_epoch
  end_epoch=$(date +%s.%N)
  printf '{"pid":%d,"name":"%s","start_time":%s,"end_time":%s}\n' \
    "$$" "$cmd_name" "$start_epoch" "$end_epoch" >> /tmp/tracerd-shortlived.jsonl
  return $status
}
`

func sendSimple(c *cli.Context, command, successMessage string) error {
	client := clientFromContext(c)
	resp, err := client.Send(command)
	if err != nil {
		return cli.Exit(fmt.Sprintf("contact tracerd: %v", err), 2)
	}
	if !resp.OK {
		return cli.Exit(fmt.Sprintf("tracerd error: %s", resp.Error), 3)
	}
	fmt.Println(successMessage)
	return nil
}

func clientFromContext(c *cli.Context) *control.Client {
	return control.NewClient(c.String("socket"), 5*time.Second)
}

var headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func printInfo(data interface{}) {
	m, ok := data.(map[string]interface{})
	if !ok {
		fmt.Printf("%+v\n", data)
		return
	}

	fmt.Println(headingStyle.Render("tracerd status"))
	for _, key := range []string{"run", "stats", "pending", "tracked"} {
		if v, present := m[key]; present {
			fmt.Printf("  %s: %v\n", key, v)
		}
	}
}
