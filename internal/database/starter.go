package database

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickybalin/SmartSim/internal/network"
	"github.com/rickybalin/SmartSim/internal/process"
)

// Starter launches a database server command bound to the address of a
// chosen network interface. It rewrites the command line with the resolved
// bind address and streams the server's combined output; supervising the
// resulting process is the caller's concern.
type Starter struct {
	Ifname string
	Out    io.Writer
	Logger *slog.Logger
}

func NewStarter(ifname string, out io.Writer, logger *slog.Logger) *Starter {
	return &Starter{Ifname: ifname, Out: out, Logger: logger}
}

// AppendBind rewrites a server command line with an explicit bind address.
func AppendBind(command, ip string) []string {
	full := strings.TrimSpace(command) + " --bind " + ip
	return strings.Fields(full)
}

// BuildCommand resolves the interface address and returns the full argv
// for the server along with the bind address used.
func (s *Starter) BuildCommand(command string) ([]string, string, error) {
	ip, err := network.CurrentIP(s.Ifname)
	if err != nil {
		return nil, "", err
	}
	return AppendBind(command, ip), ip, nil
}

// Start launches the server and returns its process handle. Output is
// streamed, not captured, so the handle reports no piped IO.
func (s *Starter) Start(command string) (*process.Process, error) {
	argv, ip, err := s.BuildCommand(command)
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("launching database",
			"cmd", strings.Join(argv, " "), "interface", s.Ifname, "ip", ip)
	}
	if s.Out != nil {
		fmt.Fprintf(s.Out, "cmd: %s\n", strings.Join(argv, " "))
		fmt.Fprintf(s.Out, "network: %s\n", s.Ifname)
		fmt.Fprintf(s.Out, "ip: %s\n\n", ip)
	}

	return process.Start(argv[0], argv[1:], process.Options{
		Stdout: s.Out,
		Stderr: s.Out,
	})
}

// Run launches the server and blocks until it exits, streaming its output
// the whole time. A non-zero exit is returned as an error.
func (s *Starter) Run(command string) error {
	p, err := s.Start(command)
	if err != nil {
		return err
	}

	code, err := p.Wait()
	if err != nil {
		return fmt.Errorf("database process failed: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("database process exited with code %d", code)
	}
	return nil
}
