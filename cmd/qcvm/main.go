// qcvm: progs.dat inspector and runner
//
// Loads a compiled progs image, prints its layout and optionally spawns a
// map entity lump, runs a function, and saves or restores the VM state
// through the configured save store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fortiblox/qcvm/pkg/builtins"
	"github.com/fortiblox/qcvm/pkg/config"
	"github.com/fortiblox/qcvm/pkg/progs"
	"github.com/fortiblox/qcvm/pkg/qcvm"
	"github.com/fortiblox/qcvm/pkg/savegame"
	"github.com/fortiblox/qcvm/pkg/savestore"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	configPath  = flag.String("config", "", "Path to qcvm.toml")
	progsPath   = flag.String("progs", "progs.dat", "Program image (.dat or .dat.zst)")
	crc         = flag.Int("crc", 0, "Expected header CRC (0 = don't check)")
	fatal       = flag.Bool("fatal", false, "Treat a CRC mismatch as fatal")
	entities    = flag.String("entities", "", "Map entity lump to spawn")
	run         = flag.String("run", "", "Function to run")
	symbols     = flag.Bool("symbols", false, "List functions, globals and fields")
	profile     = flag.Int("profile", 0, "Print the N most expensive functions after running")
	logLevel    = flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	saveSlot    = flag.String("save", "", "Save the VM state to this slot when done")
	loadSlot    = flag.String("load", "", "Restore the VM state from this slot before running")
	force       = flag.Bool("force", false, "Restore saves written by a different image")
	selftest    = flag.Bool("selftest", false, "Use a built-in test image instead of -progs")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("qcvm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "qcvm: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qcvm: %v\n", err)
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(logger.GetLevel())

	if err := execute(cfg, logger); err != nil {
		var runErr *qcvm.RunError
		if errors.As(err, &runErr) {
			fmt.Fprint(os.Stderr, runErr.StackTrace())
		}
		logger.Error().Err(err).Msg("qcvm failed")
		os.Exit(1)
	}
}

func execute(cfg *config.Config, logger zerolog.Logger) error {
	cvars := builtins.NewMapCvars()
	for name, value := range cfg.Cvars {
		cvars.Set(name, value)
	}
	registry := builtins.NewRegistry(builtins.NewLogConsole(logger), cvars)

	vm := qcvm.New("server", cfg.QCVM(), logger)
	qcvm.Switch(vm)
	defer vm.Shutdown()

	opts := qcvm.LoadOptions{
		Fatal:    *fatal,
		CRC:      int32(*crc),
		Builtins: registry.Table(),
	}
	if *selftest {
		if err := vm.Load(selftestImage(), opts); err != nil {
			return err
		}
	} else if err := vm.LoadFile(*progsPath, opts); err != nil {
		return err
	}
	printImage(vm.Image())
	if *symbols {
		printSymbols(vm.Image())
	}

	var store savestore.Store
	if *saveSlot != "" || *loadSlot != "" {
		var err error
		if store, err = savestore.Open(cfg.SaveStore()); err != nil {
			return err
		}
		defer store.Close()
	}

	if *loadSlot != "" {
		meta, err := savegame.LoadFrom(store, *loadSlot, vm, *force)
		if err != nil {
			return err
		}
		fmt.Printf("restored %s (%s, %d entities, saved %s)\n",
			meta.Name, meta.Map, meta.Entities, meta.Time().Format("2006-01-02 15:04:05"))
	}

	if *entities != "" {
		data, err := os.ReadFile(*entities)
		if err != nil {
			return err
		}
		n, err := savegame.LoadEntities(vm, string(data))
		if err != nil {
			return err
		}
		fmt.Printf("spawned %d entities (%d active)\n", n, vm.Edicts().CountActive())
	}

	fn := *run
	if fn == "" && *selftest {
		fn = "main"
	}
	if fn != "" {
		if err := vm.ExecuteByName(fn); err != nil {
			return err
		}
		v := vm.ReturnVector()
		fmt.Printf("%s() = %g ('%g %g %g')\n", fn, vm.ReturnFloat(), v[0], v[1], v[2])
	}

	if *profile > 0 {
		fmt.Printf("%-32s %10s %12s\n", "function", "calls", "statements")
		for _, p := range vm.Profile(*profile) {
			fmt.Printf("%-32s %10d %12d\n", p.Name, p.Calls, p.Statements)
		}
	}

	if *saveSlot != "" {
		meta := savestore.Meta{Map: *entities}
		if err := savegame.SaveTo(store, *saveSlot, vm, meta); err != nil {
			return err
		}
	}
	return nil
}

func printImage(img *progs.Image) {
	h := img.Header
	fmt.Printf("version      %d\n", h.Version)
	fmt.Printf("header crc   %d\n", h.CRC)
	fmt.Printf("file crc     %04x\n", img.FileCRC)
	fmt.Printf("fingerprint  %s\n", img.Fingerprint)
	fmt.Printf("size         %d\n", img.Size)
	fmt.Printf("statements   %d\n", h.NumStatements)
	fmt.Printf("globaldefs   %d\n", h.NumGlobalDefs)
	fmt.Printf("fielddefs    %d\n", h.NumFieldDefs)
	fmt.Printf("functions    %d\n", h.NumFunctions)
	fmt.Printf("strings      %d\n", h.NumStrings)
	fmt.Printf("globals      %d\n", h.NumGlobals)
	fmt.Printf("entityfields %d\n", h.EntityFields)
	if len(img.MissingBuiltins) > 0 {
		nums := make([]string, len(img.MissingBuiltins))
		for i, n := range img.MissingBuiltins {
			nums[i] = fmt.Sprint(n)
		}
		fmt.Printf("missing      #%s\n", strings.Join(nums, " #"))
	}
}

func printSymbols(img *progs.Image) {
	fmt.Println("\nfunctions:")
	for i := 1; i < len(img.Functions); i++ {
		f := &img.Functions[i]
		if num, ok := f.Builtin(); ok {
			fmt.Printf("  %5d %-32s builtin #%d\n", i, img.String(f.Name), num)
			continue
		}
		fmt.Printf("  %5d %-32s %s:%d parms=%d locals=%d\n",
			i, img.String(f.Name), img.String(f.File), f.FirstStatement, f.NumParms, f.Locals)
	}
	fmt.Println("\nglobals:")
	for _, d := range img.GlobalDefs {
		if name := img.String(d.Name); name != "" && !isImmediate(name) {
			saved := ""
			if d.Saved() {
				saved = " saved"
			}
			fmt.Printf("  %5d %-8s %s%s\n", d.Ofs, d.Kind(), name, saved)
		}
	}
	fmt.Println("\nfields:")
	for _, d := range img.FieldDefs {
		if name := img.String(d.Name); name != "" {
			fmt.Printf("  %5d %-8s %s\n", d.Ofs, d.Kind(), name)
		}
	}
}

// isImmediate reports whether a global name is a compiler constant.
func isImmediate(name string) bool {
	return name == "IMMEDIATE" || strings.HasPrefix(name, "I+")
}
