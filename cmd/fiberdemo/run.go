package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/AnatoleLucet/fiber"
	"github.com/AnatoleLucet/fiber/config"
)

var ErrInvalidTree = errors.New("tree depth and breadth must be positive")

const (
	defaultDepth     = 3
	defaultBreadth   = 3
	defaultUnitCost  = time.Millisecond
	defaultUpdates   = 4
	defaultInterrupt = 6
)

type runOptions struct {
	depth          int
	breadth        int
	unitCost       time.Duration
	updates        int
	interruptAfter int
	failKey        string
	noColor        bool
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render a synthetic tree on a simulated clock and print the trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.depth <= 0 || opts.breadth <= 0 {
				return fmt.Errorf("%w: depth=%d breadth=%d", ErrInvalidTree, opts.depth, opts.breadth)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runDemo(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}

	cmd.Flags().IntVar(&opts.depth, "depth", defaultDepth, "levels of fibers below the root")
	cmd.Flags().IntVar(&opts.breadth, "breadth", defaultBreadth, "children per fiber")
	cmd.Flags().DurationVar(&opts.unitCost, "unit-cost", defaultUnitCost, "simulated time spent on each unit of work")
	cmd.Flags().IntVar(&opts.updates, "updates", defaultUpdates, "default priority updates spread over the leaves")
	cmd.Flags().IntVar(&opts.interruptAfter, "interrupt-after", defaultInterrupt,
		"units of work after which a discrete update interrupts the pass (0 disables)")
	cmd.Flags().StringVar(&opts.failKey, "fail", "", "key of a fiber whose begin work fails on every pass")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	return cmd
}

type traceEvent struct {
	at    time.Duration
	kind  string
	key   string
	lanes fiber.Lanes
}

type tracer struct {
	host   *fiber.ManualHost
	events []traceEvent
	units  int
}

func (t *tracer) add(kind, key string, lanes fiber.Lanes) {
	t.events = append(t.events, traceEvent{at: t.host.Now(), kind: kind, key: key, lanes: lanes})
}

// tracingWork records every fiber it begins and charges the simulated clock for it.
type tracingWork struct {
	fiber.DefaultWork

	tracer  *tracer
	cost    time.Duration
	failKey string
}

func (w *tracingWork) BeginWork(current, wip *fiber.Fiber, lanes fiber.Lanes) (*fiber.Fiber, error) {
	w.tracer.units++
	w.tracer.add("begin", wip.Key, lanes)
	w.tracer.host.Advance(w.cost)

	if w.failKey != "" && wip.Key == w.failKey {
		return nil, fmt.Errorf("fiber %q refused to render", wip.Key)
	}

	return w.DefaultWork.BeginWork(current, wip, lanes)
}

func runDemo(out, logOut io.Writer, cfg *config.Config, opts runOptions) error {
	logger, err := cfg.Logging.NewLogger(logOut)
	if err != nil {
		return err
	}

	host := fiber.NewManualHost()
	tr := &tracer{host: host}

	rt, err := fiber.NewRuntimeFromConfig(cfg,
		fiber.WithHost(host),
		fiber.WithLogger(logger),
		fiber.WithWork(&tracingWork{tracer: tr, cost: opts.unitCost, failKey: opts.failKey}),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	root := rt.CreateRoot("demo")

	var leaves []*fiber.Fiber
	root.Mount(func(hostRoot *fiber.Fiber) {
		leaves = buildTree(hostRoot, "", opts.depth, opts.breadth)
	})

	commits := 0
	root.OnCommit(func(_ *fiber.Fiber, lanes fiber.Lanes) {
		commits++
		tr.add("commit", "", lanes)
	})

	failures := 0
	root.OnError(func(err error) {
		failures++
		tr.add("error", err.Error(), 0)
	})

	increment := fiber.StateUpdater(func(prev, _ any) any { return prev.(int) + 1 })

	updates := min(opts.updates, len(leaves))
	for i := range updates {
		leaf := leaves[i*len(leaves)/updates]
		lane := rt.SetState(leaf, increment)
		tr.add("update", leaf.Key, lane)
	}

	injected := opts.interruptAfter <= 0
	slices := 0
	for {
		unitsBefore := tr.units
		if !host.Step() {
			break
		}
		if tr.units > unitsBefore {
			slices++
		}

		if !injected && tr.units >= opts.interruptAfter {
			injected = true
			target := leaves[len(leaves)-1]

			var lane fiber.Lane
			rt.WithPriority(fiber.DiscreteEventPriority, func() {
				lane = rt.SetState(target, increment)
			})
			tr.add("update", target.Key, lane)
		}
	}

	if opts.noColor {
		color.NoColor = true //nolint:reassign // the library reads this global
	}

	renderTrace(out, tr.events)

	summary := color.New(color.FgGreen)
	if failures > 0 {
		summary = color.New(color.FgRed)
	}

	summary.Fprintf(out, "\n%s fibers, %s units of work in %s slices, %s commits, %s failed passes, %s simulated\n",
		humanize.Comma(int64(countFibers(root.Current()))),
		humanize.Comma(int64(tr.units)),
		humanize.Comma(int64(slices)),
		humanize.Comma(int64(commits)),
		humanize.Comma(int64(failures)),
		host.Now(),
	)

	return nil
}

// buildTree attaches depth levels of breadth children below parent and returns the leaves.
// Leaves hold an int state starting at 0.
func buildTree(parent *fiber.Fiber, prefix string, depth, breadth int) []*fiber.Fiber {
	var leaves []*fiber.Fiber

	for i := range breadth {
		key := prefix + strconv.Itoa(i)

		if depth == 1 {
			leaves = append(leaves, parent.AppendChild(fiber.NewFiber(fiber.HostText, key, nil, 0)))
			continue
		}

		child := parent.AppendChild(fiber.NewFiber(fiber.HostComponent, key, nil, nil))
		leaves = append(leaves, buildTree(child, key+".", depth-1, breadth)...)
	}

	return leaves
}

func countFibers(f *fiber.Fiber) int {
	n := 1
	for child := range f.Children() {
		n += countFibers(child)
	}
	return n
}

func renderTrace(out io.Writer, events []traceEvent) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false

	tbl.AppendHeader(table.Row{"#", "time", "event", "fiber", "lanes"})
	for i, ev := range events {
		tbl.AppendRow(table.Row{i + 1, ev.at, ev.kind, ev.key, fmt.Sprintf("%031b", ev.lanes)})
	}
	tbl.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("Total: %d events", len(events))})

	tbl.Render()
}
