// Command ebpfir translates a textual eBPF program into its SSA IR and
// prints the result after the rewrite passes.
package main

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	ucli "github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"

	"github.com/orizon-lang/ebpfir/internal/bpf"
	"github.com/orizon-lang/ebpfir/internal/cli"
	"github.com/orizon-lang/ebpfir/internal/passes"
)

const toolName = "ebpfir"

var (
	verbosityFlag = &ucli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=warn, 1=info, 2=debug",
	}
	jsonFlag = &ucli.BoolFlag{
		Name:  "json",
		Usage: "print version information as JSON",
	}
	noWriteInPlaceFlag = &ucli.BoolFlag{
		Name:  "no-write-in-place",
		Usage: "disable the write-in-place rewrite pass",
	}
	noResolveMemoryFlag = &ucli.BoolFlag{
		Name:  "no-resolve-memory",
		Usage: "disable the load-address resolution pass",
	}
	watchFlag = &ucli.BoolFlag{
		Name:  "watch",
		Usage: "re-translate whenever the input file changes",
	}
)

func main() {
	app := &ucli.App{
		Name:  toolName,
		Usage: "translate eBPF bytecode listings to SSA IR",
		Commands: []*ucli.Command{
			{
				Name:      "translate",
				Usage:     "translate a program listing and print its IR",
				ArgsUsage: "<program file>",
				Flags: []ucli.Flag{
					verbosityFlag, noWriteInPlaceFlag, noResolveMemoryFlag, watchFlag,
				},
				Action: translateAction,
			},
			{
				Name:  "version",
				Usage: "print version information",
				Flags: []ucli.Flag{jsonFlag},
				Action: func(c *ucli.Context) error {
					cli.PrintVersion(toolName, c.Bool(jsonFlag.Name))
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		cli.ExitWithError("%v", err)
	}
}

func translateAction(c *ucli.Context) error {
	if c.NArg() != 1 {
		return ucli.Exit("translate takes exactly one program file", 1)
	}
	path := c.Args().First()
	log := cli.NewLogger(c.Int(verbosityFlag.Name))
	flags := passes.Flags{
		WriteInPlace:  !c.Bool(noWriteInPlaceFlag.Name),
		ResolveMemory: !c.Bool(noResolveMemoryFlag.Name),
	}

	if err := translateFile(path, flags, log); err != nil {
		if !c.Bool(watchFlag.Name) {
			return err
		}
		log.Error("translation failed", "file", path, "err", err)
	}
	if !c.Bool(watchFlag.Name) {
		return nil
	}
	return watch(path, flags, log)
}

func translateFile(path string, flags passes.Flags, log *slog.Logger) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := bpf.ParseProgram(string(src))
	if err != nil {
		return err
	}
	fn, err := passes.NewPipeline(log, flags).Run(prog)
	if err != nil {
		return err
	}
	fmt.Print(fn.String())
	return nil
}

// watch re-runs the translation whenever the input file is written. A
// failed translation is reported and watching continues.
func watch(path string, flags passes.Flags, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	log.Info("watching for changes", "file", path)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := translateFile(path, flags, log); err != nil {
				log.Error("translation failed", "file", path, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watch error", "err", err)
		}
	}
}
