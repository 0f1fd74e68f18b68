package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/apittopti/diagflow/internal/batch"
	"github.com/apittopti/diagflow/internal/boltstore"
	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/knownids"
	"github.com/apittopti/diagflow/internal/odx"
	"github.com/apittopti/diagflow/internal/processor"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "ingest":
		ingestCmd(os.Args[2:])
	case "resolve":
		resolveCmd(os.Args[2:])
	case "chain":
		chainCmd(os.Args[2:])
	case "list":
		listCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`diagflowctl %s (built %s) <command> [options]

Commands:
  ingest   --in <file-or-dir> --vehicle <id> [--db <file>] [--state <file>] [--export <dir>] [--known-ids <yaml>] [--verbose]
  resolve  --kind <KIND> --id <identifier> [--db <file>] [--vehicle <id>] [--model-year <id>] [--model <id>] [--oem <id>] [--ecu <addr>]
  chain    --kind <KIND> --id <identifier> [--db <file>] [--vehicle <id>] [--model-year <id>] [--model <id>] [--oem <id>] [--ecu <addr>]
  list     --level <LEVEL> --scope <id> --kind <KIND> [--db <file>]
`, version, buildDate)
}

func ingestCmd(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	in := fs.String("in", "", "trace file or directory of captures")
	dbPath := fs.String("db", "diagflow.db", "definition store file")
	vehicle := fs.String("vehicle", "", "vehicle the captures belong to")
	statePath := fs.String("state", "", "progress file for resumable runs")
	exportDir := fs.String("export", "", "write synthesized documents under this directory")
	knownIDs := fs.String("known-ids", "", "known-identifier overlay (YAML)")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)

	if *in == "" || *vehicle == "" {
		fmt.Println("required: --in, --vehicle")
		os.Exit(1)
	}

	logger := newLogger(*verbose)

	defs, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Println("open store:", err)
		os.Exit(1)
	}
	defer defs.Close()

	names := knownids.Standard()
	if *knownIDs != "" {
		if err := names.LoadOverlay(*knownIDs); err != nil {
			fmt.Println("load known ids:", err)
			os.Exit(1)
		}
	}

	var sink odx.Sink
	if *exportDir != "" {
		sink = &odx.FileSink{Dir: *exportDir}
	}

	proc := processor.New(defs, nil, nil, nil, sink, names, logger)

	cfg := batch.Config{VehicleID: *vehicle, StatePath: *statePath}
	info, err := os.Stat(*in)
	if err != nil {
		fmt.Println("stat input:", err)
		os.Exit(1)
	}
	if info.IsDir() {
		cfg.Dir = *in
	} else {
		cfg.SingleFile = *in
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := batch.NewRunner(cfg, proc, logger).Run(ctx)
	if err != nil {
		fmt.Println("ingest:", err)
		os.Exit(1)
	}

	fmt.Printf("Files ingested: %d (skipped %d)\n", res.Files, res.Skipped)
	fmt.Printf("Lines decoded: %d\n", res.Lines)
	fmt.Printf("Messages interpreted: %d\n", res.Messages)
	fmt.Printf("Definitions created: %d\n", res.Definitions)
	if *exportDir != "" {
		fmt.Printf("Documents: %s\n", *exportDir)
	}
	if res.Errors > 0 {
		fmt.Printf("Errors: %d\n", res.Errors)
		os.Exit(1)
	}
}

type contextFlags struct {
	vehicle, modelYear, model, oem, ecu *string
}

func addContextFlags(fs *flag.FlagSet) contextFlags {
	return contextFlags{
		vehicle:   fs.String("vehicle", "", "vehicle id"),
		modelYear: fs.String("model-year", "", "model year id"),
		model:     fs.String("model", "", "model id"),
		oem:       fs.String("oem", "", "oem id"),
		ecu:       fs.String("ecu", "", "ecu address"),
	}
}

func (c contextFlags) context() knowledge.Context {
	return knowledge.Context{
		OEMID:       *c.oem,
		ModelID:     *c.model,
		ModelYearID: *c.modelYear,
		VehicleID:   *c.vehicle,
		ECUAddress:  *c.ecu,
	}
}

func resolveCmd(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	dbPath := fs.String("db", "diagflow.db", "definition store file")
	kind := fs.String("kind", "", "definition kind (ECU, SERVICE, DID, DTC, ROUTINE)")
	id := fs.String("id", "", "identifier")
	cf := addContextFlags(fs)
	fs.Parse(args)

	if *kind == "" || *id == "" {
		fmt.Println("required: --kind, --id")
		os.Exit(1)
	}

	defs, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Println("open store:", err)
		os.Exit(1)
	}
	defer defs.Close()

	def, err := knowledge.NewResolver(defs).Resolve(context.Background(),
		knowledge.Kind(*kind), *id, cf.context())
	if err != nil {
		fmt.Println("resolve:", err)
		os.Exit(1)
	}
	if def == nil {
		fmt.Println("no definition found")
		os.Exit(1)
	}

	out, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		fmt.Println("encode:", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func chainCmd(args []string) {
	fs := flag.NewFlagSet("chain", flag.ExitOnError)
	dbPath := fs.String("db", "diagflow.db", "definition store file")
	kind := fs.String("kind", "", "definition kind (ECU, SERVICE, DID, DTC, ROUTINE)")
	id := fs.String("id", "", "identifier")
	cf := addContextFlags(fs)
	fs.Parse(args)

	if *kind == "" || *id == "" {
		fmt.Println("required: --kind, --id")
		os.Exit(1)
	}

	defs, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Println("open store:", err)
		os.Exit(1)
	}
	defer defs.Close()

	chain, err := knowledge.NewResolver(defs).InheritanceChain(context.Background(),
		knowledge.Kind(*kind), *id, cf.context())
	if err != nil {
		fmt.Println("chain:", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tSCOPE\tNAME\tCONFIDENCE\tVERIFIED\tACTIVE")
	for _, e := range chain {
		name, conf, verified := "-", "-", "-"
		if e.Definition != nil {
			name = e.Definition.Name
			conf = string(e.Definition.Confidence)
			verified = fmt.Sprintf("%t", e.Definition.IsVerified)
		}
		active := ""
		if e.IsActive {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Level, e.ScopeID, name, conf, verified, active)
	}
	w.Flush()
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "diagflow.db", "definition store file")
	level := fs.String("level", "", "hierarchy level (VEHICLE, MODEL_YEAR, MODEL, OEM, GLOBAL)")
	scope := fs.String("scope", "", "scope id for the level")
	kind := fs.String("kind", "", "definition kind (ECU, SERVICE, DID, DTC, ROUTINE)")
	fs.Parse(args)

	if *level == "" || *scope == "" || *kind == "" {
		fmt.Println("required: --level, --scope, --kind")
		os.Exit(1)
	}

	defs, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Println("open store:", err)
		os.Exit(1)
	}
	defer defs.Close()

	rows, err := defs.FindMany(context.Background(),
		knowledge.Level(*level), *scope, knowledge.Kind(*kind))
	if err != nil {
		fmt.Println("list:", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("No definitions found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tECU\tNAME\tCONFIDENCE\tVERIFIED\tVERSION")
	for _, d := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\n",
			d.Identifier, d.ECUAddress, d.Name, d.Confidence, d.IsVerified, d.Version)
	}
	w.Flush()
}

func newLogger(verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
