package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Comcast/entitymarkers/config"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/popup"
	"github.com/Comcast/entitymarkers/reconcile"
	"github.com/Comcast/entitymarkers/registry"
	"github.com/Comcast/entitymarkers/scheduler"
	"github.com/Comcast/entitymarkers/world"
)

var checkCmd = &cobra.Command{
	Use:   "check [target-file...]",
	Short: "Validate target documents",
	Long: `Loads every target document (or just the given files) and prints
what loaded and every problem found.  Exits non-zero if there were any
problems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return check(cmd.OutOrStdout(), args)
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one tick and print the marker sets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tick(cmd.Context(), cmd.OutOrStdout())
	},
}

var (
	renderTemplate string
	renderFormat   string
)

var renderCmd = &cobra.Command{
	Use:   "render ENTITY-FILE",
	Short: "Render popups for the entities in a file",
	Long: `Renders a popup template for each entity in a JSON or YAML entity
dump.  Without --template, the default template is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return render(cmd.OutOrStdout(), args[0], renderTemplate, renderFormat)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderTemplate, "template", "t", "", "popup template")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "", "popup format: lines or markdown")
}

func printJSON(w io.Writer, x interface{}) error {
	js, err := json.MarshalIndent(x, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", js)
	return err
}

func check(w io.Writer, files []string) error {
	var report *config.Report

	if 0 == len(files) {
		_, r, err := config.NewLoader(conf.TargetDir, env(), logger).Load()
		if err != nil {
			return err
		}
		report = r
	} else {
		report = &config.Report{}
		for _, filename := range files {
			base := filepath.Base(filename)
			id := strings.TrimSuffix(base, filepath.Ext(base))
			t, ds, err := config.LoadFile(filename, env())
			if err != nil {
				report.Problems = append(report.Problems, config.Problem{
					Target: id,
					File:   base,
					Error:  err.Error(),
				})
				continue
			}
			if 0 < len(ds) {
				report.Problems = append(report.Problems, config.Problem{
					Target:      id,
					File:        base,
					Diagnostics: ds,
				})
			}
			if t != nil {
				report.Targets = append(report.Targets, t.ID)
				report.Groups += len(t.Groups)
			}
		}
	}

	if err := printJSON(w, report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d target(s) with problems", len(report.Problems))
	}
	return nil
}

func tick(ctx context.Context, w io.Writer) error {
	s, _, err := config.NewLoader(conf.TargetDir, env(), logger).Load()
	if err != nil {
		return err
	}
	reg := registry.New()
	reg.Swap(s)

	backend := marker.NewMemory()
	backend.Fixed = true
	backend.Sync(s.IDs())

	builder := reconcile.NewBuilder(backend, nil, logger)
	builder.EyeLevel = conf.EyeLevel

	cfg := scheduler.Config{
		Interval:    conf.Interval.D(),
		Cron:        conf.Cron,
		Concurrency: conf.Concurrency,
		Budget:      conf.Budget.D(),
		TickTimeout: conf.TickTimeout.D(),
	}
	sched, err := scheduler.New(cfg, reg, &world.Dir{Path: conf.WorldDir}, builder, logger, nil)
	if err != nil {
		return err
	}
	sched.Tick(ctx)

	acc := make(map[string]map[string]*marker.Snapshot, s.Len())
	for _, id := range s.IDs() {
		sets, err := backend.Lookup(id)
		if err != nil {
			return err
		}
		acc[id] = sets.Snapshot()
	}
	return printJSON(w, acc)
}

// Rendered is a popup as the render command prints it.
type Rendered struct {
	UUID   string `json:"uuid"`
	Label  string `json:"label"`
	Detail string `json:"detail"`
}

func render(w io.Writer, filename, template, format string) error {
	f, err := popup.ParseFormat(format)
	if err != nil {
		return err
	}
	if template == "" {
		template = popup.DefaultTemplate
	}

	bs, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	es, err := world.ParseEntities(bs)
	if err != nil {
		return err
	}

	acc := make([]Rendered, 0, len(es))
	for _, e := range es {
		text := popup.Render(template, e)
		acc = append(acc, Rendered{
			UUID:   e.UUID.String(),
			Label:  popup.Label(text, f),
			Detail: popup.Detail(text, f),
		})
	}
	return printJSON(w, acc)
}
