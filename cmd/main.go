package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/brettbedarf/dirfs"
	"github.com/brettbedarf/dirfs/adapters"
	"github.com/brettbedarf/dirfs/config"
	"github.com/brettbedarf/dirfs/filesystem"
	"github.com/brettbedarf/dirfs/internal/util"
	"github.com/brettbedarf/dirfs/server"
	"github.com/brettbedarf/dirfs/tree"
	"github.com/spf13/pflag"
)

const usage = `Usage:
  dirfs [flags] ls <dir> [relpath]      list the children of a node
  dirfs [flags] cat <dir> <relpath>     print a file
  dirfs [flags] mount <dir> <mountpoint> serve dir read-only over FUSE

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "dirfs:", err)
			os.Exit(1)
		}
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("dirfs", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	configPath := flags.StringP("config", "c", "", "Path to a YAML or JSON config file")
	verbose := flags.IntP("verbose", "v", config.InfoVerbose,
		"Log verbosity level between 1 (error) and 5 (trace)")
	umount := flags.BoolP("umount", "u", false,
		"Unmount the mount point first if needed. Useful for debuggers that don't exit properly.")
	backend := flags.StringP("backend", "b", config.DefaultBackend, "Storage backend: os, or memory for an in-memory snapshot of <dir>")
	hidden := flags.Bool("hidden", config.DefaultIncludeHidden, "Include dot files and directories")
	strict := flags.Bool("strict", config.DefaultStrictValidation, "Reject invalidated handles in every operation")

	if err := flags.Parse(args); err != nil {
		return err
	}

	override := &config.ConfigOverride{}
	if *configPath != "" {
		var err error
		if override, err = config.LoadConfigOverrideFile(*configPath); err != nil {
			return err
		}
	}
	// Explicit flags win over the config file
	if flags.Changed("verbose") {
		override.LogLvl = verbose
	}
	if flags.Changed("backend") {
		override.Backend = backend
	}
	if flags.Changed("hidden") {
		override.IncludeHidden = hidden
	}
	if flags.Changed("strict") {
		override.StrictValidation = strict
	}
	cfg := config.NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return err
	}

	util.InitializeLoggerTo(stderr, cfg.LogLvl)
	adapters.RegisterBuiltins(adapters.Default)

	cmdArgs := flags.Args()
	if len(cmdArgs) < 2 {
		flags.Usage()
		return errUsage
	}

	switch cmdArgs[0] {
	case "ls":
		if len(cmdArgs) > 3 {
			return errUsage
		}
		rel := ""
		if len(cmdArgs) == 3 {
			rel = cmdArgs[2]
		}
		return list(cfg, cmdArgs[1], rel, stdout)
	case "cat":
		if len(cmdArgs) != 3 {
			return errUsage
		}
		return cat(cfg, cmdArgs[1], cmdArgs[2], stdout)
	case "mount":
		if len(cmdArgs) != 3 {
			return errUsage
		}
		return mount(cfg, cmdArgs[1], cmdArgs[2], *umount)
	default:
		flags.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, cmdArgs[0])
	}
}

// openFS builds a handle filesystem over dir using cfg
func openFS(cfg *config.Config, dir string) (*filesystem.DirectoryFileSystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	storage, err := adapters.Default.Open(cfg.Backend, abs)
	if err != nil {
		return nil, err
	}

	nodes := tree.NewFactory(storage)
	nodes.IncludeHidden = cfg.IncludeHidden
	nodes.MaxDepth = cfg.MaxDepth
	nodes.Concurrency = cfg.Concurrency

	factory := filesystem.NewFactory(nodes,
		filesystem.WithStorage(storage),
		filesystem.WithStrictValidation(cfg.StrictValidation),
		filesystem.WithCountFromOne(cfg.CountFromOne),
	)
	return factory.Create(abs)
}

// resolve returns the handle for rel below the root of fsys
func resolve(fsys dirfs.FileSystem, rel string) (dirfs.Handle, error) {
	root := fsys.AllocateRootHandle()
	if rel == "" {
		return root, nil
	}
	h, res := fsys.AllocateRelativeHandleFromPath(root, rel)
	if res != dirfs.Success {
		return nil, fmt.Errorf("%s: %w", rel, res.Err())
	}
	return h, nil
}

func list(cfg *config.Config, dir, rel string, out io.Writer) error {
	fsys, err := openFS(cfg, dir)
	if err != nil {
		return err
	}
	h, err := resolve(fsys, rel)
	if err != nil {
		return err
	}
	defer fsys.FreeHandle(h)

	children, res := fsys.AllocateChildrenHandles(h)
	if res != dirfs.Success {
		return fmt.Errorf("%s: %w", rel, res.Err())
	}
	defer fsys.FreeHandles(children)

	for _, c := range children {
		name, res := fsys.GetName(c)
		if res != dirfs.Success {
			continue
		}
		if info, res, err := fsys.Stat(c); err == nil && res == dirfs.Success && info.IsDir() {
			name += "/"
		}
		fmt.Fprintln(out, name)
	}
	return nil
}

func cat(cfg *config.Config, dir, rel string, out io.Writer) error {
	fsys, err := openFS(cfg, dir)
	if err != nil {
		return err
	}
	h, err := resolve(fsys, rel)
	if err != nil {
		return err
	}
	defer fsys.FreeHandle(h)

	data, res, err := fsys.ReadAllBytes(h)
	if err != nil {
		return err
	}
	if res != dirfs.Success {
		return fmt.Errorf("%s: %w", rel, res.Err())
	}
	_, err = out.Write(data)
	return err
}

func mount(cfg *config.Config, dir, mnt string, umount bool) error {
	logger := util.GetLogger("main")

	if umount {
		// ignore error if not already mounted
		exec.Command("fusermount", "-u", mnt).Run() // nolint:errcheck
	}

	fsys, err := openFS(cfg, dir)
	if err != nil {
		return err
	}
	logger.Info().Str("dir", dir).Str("mnt", mnt).Str("fs", fsys.ID().String()).Msg("dirfs server initializing")

	srv, err := server.Mount(fsys, mnt, cfg)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalChan)

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()

	select {
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
		if err := srv.Unmount(); err != nil {
			return fmt.Errorf("unmount %s: %w", mnt, err)
		}
	case <-done:
		logger.Info().Msg("Filesystem unmounted externally")
	}
	return nil
}
