// Command serialrepl talks to a microcontroller REPL over a serial port.
//
//	serialrepl [flags] [term | put FILE | get]
//
// term bridges the terminal to the REPL; Ctrl-] quits. put stores FILE in a
// Snek board's eeprom and get prints the program stored there.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	serial "github.com/luhtfiimanal/go-serial-repl"
	"github.com/luhtfiimanal/go-serial-repl/internal/logutil"
	"github.com/luhtfiimanal/go-serial-repl/repl"
)

var logger = logutil.GetLogger("[serialrepl] ")

type settings struct {
	device       string
	baud         int
	profile      string
	profilesFile string
	backend      string
	logFile      string
	interrupt    bool

	command string
	args    []string
}

func parseArgs(args []string, stderr io.Writer) (settings, error) {
	var s settings
	flags := flag.NewFlagSet("serialrepl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&s.device, "device", "/dev/ttyACM0", "serial device")
	flags.IntVar(&s.baud, "baud", 0, "baud rate, overriding the profile")
	flags.StringVar(&s.profile, "profile", "snek", "board profile")
	flags.StringVar(&s.profilesFile, "profiles", "", "YAML file with extra board profiles")
	flags.StringVar(&s.backend, "backend", "", "serial backend: termios, portable or tarm")
	flags.StringVar(&s.logFile, "log", "", "write debug log to this file")
	flags.BoolVar(&s.interrupt, "interrupt", true, "interrupt the running program after connecting")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: serialrepl [flags] [term | put FILE | get]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return s, err
	}

	rest := flags.Args()
	s.command = "term"
	if len(rest) > 0 {
		s.command, s.args = rest[0], rest[1:]
	}
	switch s.command {
	case "term", "get":
		if len(s.args) != 0 {
			return s, fmt.Errorf("%s takes no arguments", s.command)
		}
	case "put":
		if len(s.args) != 1 {
			return s, errors.New("put takes exactly one file")
		}
	default:
		return s, fmt.Errorf("unknown command %q", s.command)
	}
	return s, nil
}

// resolve picks the profile and applies the flag overrides.
func (s settings) resolve() (repl.Profile, serial.Config, error) {
	profiles := repl.DefaultProfiles()
	if s.profilesFile != "" {
		f, err := os.Open(s.profilesFile)
		if err != nil {
			return repl.Profile{}, serial.Config{}, err
		}
		defer f.Close()
		if profiles, err = repl.LoadProfiles(f); err != nil {
			return repl.Profile{}, serial.Config{}, err
		}
	}
	p, ok := profiles[s.profile]
	if !ok {
		names := make([]string, 0, len(profiles))
		for name := range profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		return repl.Profile{}, serial.Config{}, fmt.Errorf("unknown profile %q (have %s)", s.profile, strings.Join(names, ", "))
	}
	if s.baud != 0 {
		p.BaudRate = s.baud
		p.REPL.BaudRate = s.baud
	}
	if s.backend != "" {
		p.Backend = serial.Backend(s.backend)
	}
	if !s.interrupt {
		p.Interrupt = false
	}
	return p, p.SerialConfig(s.device), nil
}

// describeOpenError turns a failed open into advice for the user.
func describeOpenError(device string, err error) string {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Sprintf("permission denied opening %s; is your user in the dialout group?", device)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("%s not found; is the board plugged in?", device)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Sprintf("%s is in use by another program", device)
	default:
		return fmt.Sprintf("could not open %s: %v", device, err)
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	s, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "serialrepl:", err)
		return 2
	}
	if err := logutil.SetOutputFile(s.logFile); err != nil {
		fmt.Fprintln(stderr, "serialrepl:", err)
		return 1
	}
	defer logutil.SetOutputFile("")

	profile, serialCfg, err := s.resolve()
	if err != nil {
		fmt.Fprintln(stderr, "serialrepl:", err)
		return 2
	}
	ch, err := serial.NewChannel(serialCfg)
	if err != nil {
		fmt.Fprintln(stderr, "serialrepl:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	loop := repl.NewLoop()
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(loopDone)
	}()
	defer func() {
		cancelLoop()
		<-loopDone
	}()

	sess, err := openSession(ctx, loop, ch, profile)
	if err != nil {
		if errors.Is(err, serial.ErrConnection) {
			fmt.Fprintln(stderr, "serialrepl:", describeOpenError(serialCfg.Device, err))
		} else {
			fmt.Fprintln(stderr, "serialrepl:", err)
		}
		return 1
	}
	defer sess.close()

	switch s.command {
	case "put":
		err = sess.put(ctx, s.args[0])
	case "get":
		err = sess.get(ctx, stdout)
	default:
		err = sess.term(ctx, stdin, stdout)
	}
	if err != nil {
		fmt.Fprintln(stderr, "serialrepl:", err)
		return 1
	}
	return 0
}
