package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/config"
	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/metadata"
	"github.com/janelia-flyem/zpipe/pipeline"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// parseCodecs parses a comma-separated list of bytes-to-bytes codecs, each
// optionally followed by ":<level>".
func parseCodecs(s string) ([]codec.Spec, error) {
	var specs []codec.Spec
	for _, elem := range strings.Split(s, ",") {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}
		name, level, hasLevel := strings.Cut(elem, ":")
		spec := codec.Spec{Name: name}
		if hasLevel {
			n, err := strconv.Atoi(level)
			if err != nil {
				return nil, fmt.Errorf("bad level for codec %q: %v", name, err)
			}
			spec.Configuration = zpipe.Config{"level": n}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func pointParameter(cmd zpipe.Command, key string, required bool) (zpipe.Point, error) {
	s, found := cmd.Parameter(key)
	if !found {
		if required {
			return nil, fmt.Errorf("%s command requires %s=<x,y,...>", cmd.Name(), key)
		}
		return nil, nil
	}
	return zpipe.StringToPoint(s, ",")
}

// DoCreate performs the "create" command, saving metadata for a new array.
func DoCreate(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) error {
	var arrayPath string
	cmd.CommandArgs(0, &arrayPath)
	if arrayPath == "" {
		return fmt.Errorf("create command must be followed by the array path")
	}
	opts := metadata.Options{DataType: "uint8"}
	var err error
	if opts.Shape, err = pointParameter(cmd, "shape", true); err != nil {
		return err
	}
	if opts.ChunkShape, err = pointParameter(cmd, "chunks", true); err != nil {
		return err
	}
	if opts.ShardShape, err = pointParameter(cmd, "shards", false); err != nil {
		return err
	}
	if dtype, found := cmd.Parameter("dtype"); found {
		opts.DataType = dtype
	}
	if fill, found := cmd.Parameter("fill"); found {
		opts.FillValue = json.RawMessage(fill)
		if _, err := strconv.ParseFloat(fill, 64); err != nil && fill != "true" && fill != "false" {
			opts.FillValue = json.RawMessage(strconv.Quote(fill))
		}
	}
	if codecs, found := cmd.Parameter("codecs"); found {
		if opts.Codecs, err = parseCodecs(codecs); err != nil {
			return err
		}
	}
	if sep, found := cmd.Parameter("separator"); found {
		opts.Separator = sep
	}

	if _, err := metadata.Load(ctx, store, arrayPath); err == nil {
		return fmt.Errorf("array %q already exists in %s", arrayPath, store)
	}
	meta, err := metadata.New(opts)
	if err != nil {
		return err
	}
	p, err := pipeline.Create(ctx, store, arrayPath, meta, cfg.Pipeline)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Created %s\n", p)
	return nil
}

// DoInfo performs the "info" command, printing an array's metadata.
func DoInfo(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) error {
	var arrayPath string
	cmd.CommandArgs(0, &arrayPath)
	p, err := pipeline.Open(ctx, store, arrayPath, cfg.Pipeline)
	if err != nil {
		return err
	}
	meta := p.Metadata()
	doc, err := meta.Marshal()
	if err != nil {
		return err
	}
	grid := meta.Grid()
	fmt.Fprintf(output, "%s\n", doc)
	fmt.Fprintf(output, "Grid:   %s\n", grid)
	fmt.Fprintf(output, "Codecs: %s\n", meta.Chain())
	fmt.Fprintf(output, "Stored units: %s of %s bytes decoded each\n",
		humanize.Comma(grid.StorageGrid().NumChunks()), humanize.Comma(meta.Rep().NumBytes()))
	if l, ok := store.(storage.Lister); ok {
		prefix := arrayPath
		if prefix != "" {
			prefix += "/"
		}
		keys, err := l.List(ctx, prefix)
		if err != nil {
			return err
		}
		var written int64
		for _, key := range keys {
			if key != metadata.Key(arrayPath, metadata.DocumentName) {
				written++
			}
		}
		fmt.Fprintf(output, "Written units: %s\n", humanize.Comma(written))
	}
	return nil
}

func openSelection(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) (*pipeline.Pipeline, indexing.Selection, []string, error) {
	var arrayPath, selText string
	rest := cmd.CommandArgs(0, &arrayPath, &selText)
	if arrayPath == "" || selText == "" {
		return nil, nil, nil, fmt.Errorf("%s command must be followed by the array path and a selection", cmd.Name())
	}
	sel, err := indexing.ParseSelection(selText)
	if err != nil {
		return nil, nil, nil, err
	}
	p, err := pipeline.Open(ctx, store, arrayPath, cfg.Pipeline)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, sel, rest, nil
}

// DoPlan performs the "plan" command, printing the chunk operations of a
// selection without any chunk I/O.
func DoPlan(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) error {
	p, sel, _, err := openSelection(ctx, cfg, store, cmd)
	if err != nil {
		return err
	}
	mode := indexing.ReadMode
	if m, found := cmd.Parameter("mode"); found && m == "write" {
		mode = indexing.WriteMode
	}
	t, err := p.Plan(sel, mode, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Output shape %s, %d chunk operations, %s\n", t.Shape, len(t.Ops), t.Concurrency)
	for _, op := range t.Ops {
		fmt.Fprintf(output, "  %s  %s\n", p.Key(op.Coord), op)
	}
	return nil
}

// DoRead performs the "read" command, printing the selected values or
// writing them as raw bytes to a file.
func DoRead(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) error {
	p, sel, _, err := openSelection(ctx, cfg, store, cmd)
	if err != nil {
		return err
	}
	data, shape, err := p.Read(ctx, sel)
	if err != nil {
		return err
	}
	if filename, found := cmd.Parameter("out"); found {
		if err := os.WriteFile(filename, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(output, "Wrote %s of shape %s to %s\n", humanize.Bytes(uint64(len(data))), shape, filename)
		return nil
	}
	dt := p.Metadata().DType()
	values := make([]string, len(data)/dt.Size)
	for i := range values {
		values[i] = dt.FormatValue(data[i*dt.Size : (i+1)*dt.Size])
	}
	fmt.Fprintf(output, "shape %s\n%s\n", shape, strings.Join(values, " "))
	return nil
}

// DoWrite performs the "write" command, storing a single value over the
// selection or the raw contents of a file.
func DoWrite(ctx context.Context, cfg *config.Config, store storage.Store, cmd zpipe.Command) error {
	p, sel, rest, err := openSelection(ctx, cfg, store, cmd)
	if err != nil {
		return err
	}
	var buf []byte
	if filename, found := cmd.Parameter("in"); found {
		if buf, err = os.ReadFile(filename); err != nil {
			return err
		}
	} else {
		if len(rest) == 0 {
			return fmt.Errorf("write command needs a value or in=<file>")
		}
		if buf, err = p.Metadata().DType().ParseValue(rest[0]); err != nil {
			return err
		}
	}
	report, err := p.Store(ctx, pipeline.Request{Selection: sel, Buffer: buf})
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Wrote selection of shape %s: %s\n", report.Shape, report)
	return nil
}
