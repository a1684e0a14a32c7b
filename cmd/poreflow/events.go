package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/linuxmatters/poreflow/internal/cli"
	"github.com/linuxmatters/poreflow/internal/detect"
	"github.com/linuxmatters/poreflow/internal/sink"
)

// errLimit stops event iteration once --limit events have been printed.
var errLimit = errors.New("limit reached")

// EventsCmd reads back what scan stored.
type EventsCmd struct {
	ID string `arg:"" name:"run" optional:"" help:"Run id, or a unique prefix of one. Lists runs when omitted."`

	Store  string `required:"" help:"Badger directory written by scan --store." placeholder:"dir" type:"existingdir"`
	Delete bool   `help:"Delete the run and its events."`
	Limit  int    `help:"Maximum events to list; 0 lists every event." default:"50"`
}

func (c *EventsCmd) Run(g *Globals) error {
	logger, cleanup, err := newLogger(g, false)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	store, err := sink.OpenStore(c.Store, logger)
	if err != nil {
		return err
	}
	defer closeQuietly("event store", store)

	if c.ID == "" {
		if c.Delete {
			return errors.New("--delete needs a run id")
		}
		return listRuns(store)
	}

	run, err := findRun(store, c.ID)
	if err != nil {
		return err
	}

	if c.Delete {
		if err := store.DeleteRun(run.ID); err != nil {
			return err
		}
		cli.PrintSuccess(fmt.Sprintf("Deleted run %s (%s events)", run.ID, cli.FormatCount(run.Events)))
		return nil
	}
	return c.listEvents(store, run)
}

// findRun resolves an id or unique id prefix.
func findRun(store *sink.Store, id string) (sink.Run, error) {
	if run, err := store.Run(id); err == nil {
		return run, nil
	} else if !errors.Is(err, sink.ErrRunNotFound) {
		return sink.Run{}, err
	}

	runs, err := store.Runs()
	if err != nil {
		return sink.Run{}, err
	}
	matches := lo.Filter(runs, func(r sink.Run, _ int) bool {
		return strings.HasPrefix(r.ID, id)
	})
	switch len(matches) {
	case 0:
		return sink.Run{}, fmt.Errorf("%w: %s", sink.ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return sink.Run{}, fmt.Errorf("run prefix %q is ambiguous (%d runs)", id, len(matches))
	}
}

func listRuns(store *sink.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cli.PrintWarning("No runs stored")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tEVENTS\tSAMPLES\tSOURCE")
	for _, r := range runs {
		source := r.Source
		if r.Error != "" {
			source += " " + cli.ErrorStyle.Render("("+r.Error+")")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortRunID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			cli.FormatCount(r.Events),
			cli.FormatCount(r.Samples),
			source)
	}
	return tw.Flush()
}

func (c *EventsCmd) listEvents(store *sink.Store, run sink.Run) error {
	cli.PrintSection("Run " + run.ID)
	cli.PrintInfo("Source", run.Source)
	cli.PrintInfo("Sample rate", cli.FormatRate(run.SampleRate))
	cli.PrintInfo("Events", cli.FormatCount(run.Events))
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tDURATION\tLEVELS\tBLOCKADE")

	shown := 0
	err := store.Events(run.ID, func(ev *detect.Event) error {
		if c.Limit > 0 && shown == c.Limit {
			return errLimit
		}
		shown++
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.3f\n",
			ev.Index,
			cli.FormatCount(ev.Start),
			cli.FormatDuration(ev.Duration()),
			len(ev.Levels),
			ev.Blockade())
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if shown < run.Events {
		cli.PrintWarning(fmt.Sprintf("Showing %d of %d events; raise --limit to see more", shown, run.Events))
	}
	return nil
}
