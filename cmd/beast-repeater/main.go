// Command beast-repeater splits and aggregates BEAST-framed Mode-S
// radar message streams: it listens for and/or dials multiple peers,
// and re-broadcasts every frame from an input peer to every output
// peer, unchanged.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	beastmux "github.com/denzen84/beast-repeater"
)

// repeatableFlag collects every occurrence of a flag that may be
// passed more than once, in the order given - the idiomatic
// flag.Value pattern golang.org/x/build's cmd/* binaries use for
// multi-valued options (e.g. cmd/relui's flag.Var-based flags).
type repeatableFlag struct {
	values []string
}

func (r *repeatableFlag) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.values, ",")
}

func (r *repeatableFlag) Set(v string) error {
	r.values = append(r.values, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("beast-repeater", flag.ContinueOnError)

	var inConnect, outConnect, inServer, outServer repeatableFlag
	fs.Var(&inConnect, "inConnect", "host:port to dial as a BEAST input feed (repeatable)")
	fs.Var(&outConnect, "outConnect", "host:port to dial as a BEAST output subscriber (repeatable)")
	fs.Var(&inServer, "inServer", "port[,port...] to bind as BEAST input listener(s) (repeatable)")
	fs.Var(&outServer, "outServer", "port[,port...] to bind as BEAST output listener(s) (repeatable)")
	bindAddress := fs.String("net-bind-address", beastmux.DefaultBindAddress, "bind address used by subsequent listeners")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if len(inConnect.values) == 0 && len(outConnect.values) == 0 &&
		len(inServer.values) == 0 && len(outServer.values) == 0 {
		fmt.Fprintln(os.Stderr, "beast-repeater: no endpoints configured; specify at least one of --inConnect, --outConnect, --inServer, --outServer")
		return 1
	}

	logger := log.New(os.Stderr, "beast-repeater: ", log.LstdFlags)
	config := beastmux.DefaultConfig()
	config.BindAddress = *bindAddress
	engine := beastmux.NewEngine(config, logger)

	if err := configureEndpoints(engine, config.BindAddress, inConnect, outConnect, inServer, outServer); err != nil {
		logger.Printf("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		engine.Stop()
	}()

	engine.Run()
	return 0
}

func configureEndpoints(engine *beastmux.Engine, bindAddress string, inConnect, outConnect, inServer, outServer repeatableFlag) error {
	for _, addr := range inConnect.values {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return fmt.Errorf("--inConnect %s: %w", addr, err)
		}
		svc := beastmux.NewBeastClientInput("BEAST client input")
		engine.AddService(svc)
		if _, err := engine.AddDialTarget(svc, host, port, true); err != nil {
			return fmt.Errorf("--inConnect %s: %w", addr, err)
		}
	}

	for _, addr := range outConnect.values {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return fmt.Errorf("--outConnect %s: %w", addr, err)
		}
		svc := beastmux.NewBeastClientOutput("BEAST client output")
		engine.AddService(svc)
		if _, err := engine.AddDialTarget(svc, host, port, false); err != nil {
			return fmt.Errorf("--outConnect %s: %w", addr, err)
		}
	}

	for _, ports := range inServer.values {
		svc := beastmux.NewBeastServerInput("BEAST server input")
		engine.AddService(svc)
		for _, port := range strings.Split(ports, ",") {
			if err := validatePort(port); err != nil {
				return fmt.Errorf("--inServer %s: %w", ports, err)
			}
			if err := engine.Listen(svc, bindAddress, port); err != nil {
				return err
			}
		}
	}

	for _, ports := range outServer.values {
		svc := beastmux.NewBeastServerOutput("BEAST server output")
		engine.AddService(svc)
		for _, port := range strings.Split(ports, ",") {
			if err := validatePort(port); err != nil {
				return fmt.Errorf("--outServer %s: %w", ports, err)
			}
			if err := engine.Listen(svc, bindAddress, port); err != nil {
				return err
			}
		}
	}

	return nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port")
	}
	host, port = addr[:idx], addr[idx+1:]
	if err := validatePort(port); err != nil {
		return "", "", err
	}
	return host, port, nil
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
