// Command-line interface to zpipe arrays: create arrays and read, write or
// plan selections against any configured store.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/janelia-flyem/zpipe/config"
	"github.com/janelia-flyem/zpipe/storage"
	_ "github.com/janelia-flyem/zpipe/storage/badger"
	_ "github.com/janelia-flyem/zpipe/storage/blob"
	_ "github.com/janelia-flyem/zpipe/storage/filesystem"
	"github.com/janelia-flyem/zpipe/zpipe"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.
	configFile = flag.String("config", "", "")

	// Thread budget for each request.  Overrides the configuration.
	useCPU = flag.Int("numcpu", 0, "")

	// Where command output goes.
	output io.Writer = os.Stdout
)

const helpMessage = `
zpipe reads and writes selections of chunked, compressed N-dimensional arrays

Usage: zpipe [options] <command>

      -config     =string   TOML configuration file.  Default: filesystem store in current directory.
      -numcpu     =number   Thread budget for each request.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	create <array> shape=<x,y,...> chunks=<x,y,...> [shards=<x,y,...>] [dtype=<type>]
	       [fill=<value>] [codecs=<name[:level]>,...] [separator=<sep>]
	info   <array>
	plan   <array> <selection>
	read   <array> <selection> [out=<file>]
	write  <array> <selection> <value>
	write  <array> <selection> in=<file>
	version

Selections use NumPy syntax, e.g., "2:8, 3", "..., ::2", "[1,4,7], :" or "None, 5".
Raw files hold little-endian elements in C order.
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		zpipe.Verbose = true
		zpipe.SetLogMode(zpipe.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*configFile); err != nil {
			log.Fatalln(err)
		}
		if err := cfg.SetLogger(); err != nil {
			log.Fatalln(err)
		}
		defer zpipe.Shutdown()
	}
	if *useCPU != 0 {
		cfg.Pipeline.ThreadBudget = *useCPU
		runtime.GOMAXPROCS(*useCPU)
	}

	// Cancel in-flight requests on ctrl+c.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, cfg, zpipe.Command(flag.Args())); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cfg *config.Config, cmd zpipe.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("blank command")
	}
	if cmd.Name() == "version" {
		fmt.Fprintf(output, "zpipe %s\nStorage engines: %s\n", zpipe.Version, storage.EnginesAvailable())
		return nil
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		if ms, ok := store.(*storage.MonitoredStore); ok {
			zpipe.Infof("%s: %s\n", cmd.Name(), ms.Stats())
		}
		if err := store.Close(); err != nil {
			zpipe.Errorf("closing %s: %v\n", store, err)
		}
	}()

	switch cmd.Name() {
	case "create":
		return DoCreate(ctx, cfg, store, cmd)
	case "info":
		return DoInfo(ctx, cfg, store, cmd)
	case "plan":
		return DoPlan(ctx, cfg, store, cmd)
	case "read":
		return DoRead(ctx, cfg, store, cmd)
	case "write":
		return DoWrite(ctx, cfg, store, cmd)
	}
	return fmt.Errorf("unknown command %q; try 'zpipe help'", cmd.Name())
}
