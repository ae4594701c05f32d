package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
)

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file-or-glob>...",
		Short: "Validate pipeline files without running them",
		Long: `Validate one or more pipeline documents (.dot or .json). Arguments may
be doublestar globs such as "pipelines/**/*.dot".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandGlobs(args)
			if err != nil {
				return err
			}
			failed := 0
			for _, f := range files {
				if !lintFile(cmd.OutOrStdout(), f) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines failed validation", failed, len(files))
			}
			return nil
		},
	}
}

// expandGlobs resolves each pattern. A pattern without glob syntax is kept
// as a literal path so a missing file is reported rather than skipped.
func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[{") {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("glob %q matched no files", p)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

func lintFile(w io.Writer, path string) bool {
	doc, err := pipeline.Load(path)
	if err != nil {
		fmt.Fprintf(w, "FAIL: %s: %v\n", path, err)
		return false
	}
	errs := pipeline.Validate(doc)
	if len(errs) == 0 {
		fmt.Fprintf(w, "OK: %s: pipeline %q is valid (%d nodes, %d edges)\n",
			path, doc.Name, len(doc.Nodes), len(doc.Edges))
		return true
	}
	fmt.Fprintf(w, "FAIL: %s\n", path)
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e.Error())
	}
	return false
}

// ─── graph ────────────────────────────────────────────────────────────────────

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <pipeline>",
		Short: "Print a human-readable summary of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := pipeline.Load(args[0])
			if err != nil {
				return err
			}
			switch strings.ToLower(format) {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), pipeline.RenderDOT(doc))
			case "text", "":
				fmt.Fprint(cmd.OutOrStdout(), pipeline.RenderText(doc))
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// ─── cells / script / notebook ────────────────────────────────────────────────

func loadCells(path string) ([]codegen.Cell, *pipeline.Document, error) {
	doc, err := pipeline.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return codegen.BuildCells(doc.Nodes, doc.Edges), doc, nil
}

func cellsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cells <pipeline>",
		Short: "Print the generated code cell of each pipeline step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cells, _, err := loadCells(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, c := range cells {
				marker := ""
				if c.Overridden {
					marker = " (edited)"
				}
				fmt.Fprintf(w, "── [%d] %s%s ──\n%s\n\n", i, c.Label, marker, strings.TrimRight(c.Code, "\n"))
			}
			return nil
		},
	}
}

func scriptCmd() *cobra.Command {
	var (
		policy string
		upTo   int
	)

	cmd := &cobra.Command{
		Use:   "script <pipeline>",
		Short: "Print the assembled pandas script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cells, _, err := loadCells(args[0])
			if err != nil {
				return err
			}
			p, err := scriptPolicy(policy, upTo, cmd.Flags().Changed("up-to"))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), codegen.Assemble(cells, p))
			return nil
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "full", "assembly policy: full, prefix or browser")
	cmd.Flags().IntVar(&upTo, "up-to", 0, "last step index to include (prefix and browser policies)")
	return cmd
}

func scriptPolicy(name string, upTo int, upToSet bool) (codegen.Policy, error) {
	var p codegen.Policy
	if upToSet {
		p.UpTo = &upTo
	}
	switch strings.ToLower(name) {
	case "full", "":
		p.UpTo = nil
	case "prefix":
		if !upToSet {
			return p, errors.New("--policy prefix needs --up-to")
		}
	case "browser":
		p.BrowserSafe = true
	default:
		return p, fmt.Errorf("unknown policy %q: use full, prefix or browser", name)
	}
	return p, nil
}

func notebookCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "notebook <pipeline>",
		Short: "Export the pipeline as a Jupyter notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cells, _, err := loadCells(args[0])
			if err != nil {
				return err
			}
			nb, err := codegen.Notebook(cells)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(nb)
				return err
			}
			return os.WriteFile(out, nb, 0o644)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "write the notebook to a file instead of stdout")
	return cmd
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd(g *globals) *cobra.Command {
	var (
		upTo     int
		dataFile string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Execute a pipeline step by step with the local python interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			doc, err := pipeline.Load(args[0])
			if err != nil {
				return err
			}
			gr := doc.Graph()
			cache := pipeline.NewOutputCache()
			if dataFile != "" {
				if err := seedSource(gr, cache, dataFile); err != nil {
					return err
				}
			}
			index := upTo
			if !cmd.Flags().Changed("up-to") {
				nodes, edges := gr.Snapshot()
				index = len(pipeline.OrderedPipeline(nodes, edges)) - 1
			}

			ex := runner.NewExecutor(gr, cache, localRunner(cfg))
			report, runErr := ex.RunUpTo(signalContext(cmd.Context()), index)
			if report != nil {
				printReport(cmd.OutOrStdout(), gr, report)
				if out != "" && report.Frame != nil {
					if err := writeJSON(out, report.Frame); err != nil {
						return err
					}
				}
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&upTo, "up-to", 0, "last step index to run (default: every step)")
	cmd.Flags().StringVar(&dataFile, "data", "", "JSON frame loaded into the first data source step")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the final frame as JSON to a file")
	return cmd
}

// seedSource loads a JSON frame file as the output of the first source
// step.
func seedSource(g *pipeline.Graph, cache *pipeline.OutputCache, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}
	var df frame.DataFrame
	if err := json.Unmarshal(raw, &df); err != nil {
		return fmt.Errorf("decode data %s: %w", path, err)
	}
	if err := df.Validate(); err != nil {
		return fmt.Errorf("data %s: %w", path, err)
	}
	nodes, edges := g.Snapshot()
	for _, n := range pipeline.OrderedPipeline(nodes, edges) {
		if n.Kind != pipeline.KindSource {
			continue
		}
		cache.Put(n.ID, &df)
		return nil
	}
	return errors.New("pipeline has no data source step to load data into")
}

func printReport(w io.Writer, g *pipeline.Graph, r *runner.Report) {
	for i, st := range r.Steps {
		label := st.NodeID
		if n, err := g.Node(st.NodeID); err == nil {
			label = n.DisplayLabel()
		}
		switch {
		case st.Err != "":
			fmt.Fprintf(w, "[%d] %-24s FAILED: %s\n", i, label, st.Err)
		case st.ShortCircuited:
			fmt.Fprintf(w, "[%d] %-24s skipped (no input rows)\n", i, label)
		default:
			fmt.Fprintf(w, "[%d] %-24s %d rows\n", i, label, st.OutputRows)
		}
	}
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

// ─── import / generate ────────────────────────────────────────────────────────

// emitProposal lays out p as a fresh pipeline and writes it to out, or to
// stdout as JSON when out is empty.
func emitProposal(cmd *cobra.Command, name string, p *reconcile.Proposal, out string) error {
	g := pipeline.NewGraph()
	if _, err := reconcile.Apply(g, p, reconcile.Options{}); err != nil {
		return err
	}
	doc := pipeline.DocumentOf(name, g)
	if p.Explanation != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), p.Explanation)
	}
	if out != "" {
		return doc.Save(out)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}

func importCmd(g *globals) *cobra.Command {
	var (
		out      string
		useModel bool
	)

	cmd := &cobra.Command{
		Use:   "import <script.py>",
		Short: "Turn a pandas script into a pipeline",
		Long: `Parse a pandas script into pipeline steps. Statements the parser does not
recognise are handed to the configured model when --assist is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			var importer assist.ScriptImporter
			if useModel {
				cfg, err := g.load()
				if err != nil {
					return err
				}
				svc, err := assistant(cfg)
				if err != nil {
					return err
				}
				importer = svc
			}
			ctx := signalContext(cmd.Context())
			p, err := assist.ImportFromScript(ctx, importer, string(src))
			if err != nil {
				return err
			}
			return emitProposal(cmd, strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])), p, out)
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "write the pipeline to a .dot or .json file")
	cmd.Flags().BoolVar(&useModel, "assist", false, "ask the model about statements the parser cannot map")
	return cmd
}

func generateCmd(g *globals) *cobra.Command {
	var (
		schemaFile string
		out        string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Ask the model for a pipeline that answers a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			var schema []frame.Column
			if schemaFile != "" {
				if schema, err = readSchema(schemaFile); err != nil {
					return err
				}
			}
			svc, err := assistant(cfg)
			if err != nil {
				return err
			}
			p, err := svc.Generate(signalContext(cmd.Context()), args[0], schema)
			if err != nil {
				return err
			}
			return emitProposal(cmd, name, p, out)
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON file with the data columns, either a frame or a column list")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the pipeline to a .dot or .json file")
	cmd.Flags().StringVar(&name, "name", "generated", "pipeline name")
	return cmd
}

// readSchema accepts a frame ({"columns": [...]}) or a bare column list.
func readSchema(path string) ([]frame.Column, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var cols []frame.Column
	if err := json.Unmarshal(raw, &cols); err == nil {
		return cols, nil
	}
	var df frame.DataFrame
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	return df.Columns, nil
}

// ─── explain ──────────────────────────────────────────────────────────────────

func explainCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <pipeline> <node-id>",
		Short: "Explain in plain language what one step does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			doc, err := pipeline.Load(args[0])
			if err != nil {
				return err
			}
			n, err := doc.Graph().Node(args[1])
			if err != nil {
				return err
			}
			svc, err := assistant(cfg)
			if err != nil {
				return err
			}
			text, err := svc.Explain(signalContext(cmd.Context()), assist.ExplainRequest{
				Kind:       n.Kind,
				Config:     n.EffectiveConfig(),
				InputRows:  n.InputRows,
				OutputRows: n.OutputRows,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
