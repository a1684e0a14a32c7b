package main

import (
	"fmt"
	"os"
	"time"

	"github.com/linuxmatters/poreflow/internal/cli"
	"github.com/linuxmatters/poreflow/internal/slicing"
	"github.com/linuxmatters/poreflow/internal/spectrum"
	"github.com/linuxmatters/poreflow/internal/ui"
	"github.com/linuxmatters/poreflow/internal/waveform"
)

// InfoCmd describes recordings without scanning them.
type InfoCmd struct {
	Files []string `arg:"" name:"file" help:"Recordings to describe." type:"existingfile"`

	Channel         int  `help:"Channel to describe." default:"0"`
	Segment         int  `help:"Welch segment length in samples." default:"4096"`
	SpectrumSamples int  `help:"Samples from the start of the file used for the noise spectrum." default:"1048576"`
	NoSpectrum      bool `help:"Skip the noise spectrum."`
}

func (c *InfoCmd) Run(g *Globals) error {
	_, cleanup, err := newLogger(g, false)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	var failed int
	for _, path := range c.Files {
		if err := c.describe(path); err != nil {
			cli.PrintError(fmt.Sprintf("%s: %v", path, err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be described", failed, len(c.Files))
	}
	return nil
}

func (c *InfoCmd) describe(path string) error {
	w, err := waveform.Open(path)
	if err != nil {
		return err
	}
	defer closeQuietly(path, w)

	if c.Channel < 0 || c.Channel >= w.Channels() {
		return fmt.Errorf("channel %d out of range [0, %d)", c.Channel, w.Channels())
	}
	view, err := w.SelectChannels(slicing.Range(c.Channel, c.Channel+1))
	if err != nil {
		return err
	}

	cli.PrintSection(path)
	cli.PrintInfo("Format", w.Format())
	cli.PrintInfo("Sample rate", cli.FormatRate(w.SampleRate()))
	cli.PrintInfo("Samples", cli.FormatCount(w.Len()))
	cli.PrintInfo("Channels", fmt.Sprint(w.Channels()))
	cli.PrintInfo("Duration", cli.FormatDuration(time.Duration(float64(w.Len())/w.SampleRate()*float64(time.Second))))
	if fi, err := os.Stat(path); err == nil {
		cli.PrintInfo("File size", cli.FormatBytes(fi.Size()))
	}
	cli.PrintInfo("Block size", cli.FormatCount(w.BlockSize()))

	stats, err := view.Stats()
	if err != nil {
		return err
	}
	cli.PrintInfo("Mean", cli.FormatCurrent(stats.Mean))
	cli.PrintInfo("Std dev", cli.FormatCurrent(stats.StdDev))
	cli.PrintInfo("Range", cli.FormatCurrent(stats.Min)+" to "+cli.FormatCurrent(stats.Max))

	if c.NoSpectrum {
		return nil
	}
	return c.printSpectrum(view)
}

func (c *InfoCmd) printSpectrum(view *waveform.Waveform) error {
	n := min(c.SpectrumSamples, view.Len())
	samples, err := view.ReadRange(0, slicing.Range(0, n))
	if err != nil {
		return err
	}

	d, err := spectrum.Welch(samples, view.SampleRate(), c.Segment)
	if err != nil {
		cli.PrintWarning(fmt.Sprintf("no noise spectrum: %v", err))
		return nil
	}

	freq, _ := d.Peak()
	cli.PrintInfo("RMS noise", cli.FormatCurrent(d.RMS(view.SampleRate()/2)))
	cli.PrintInfo("Peak", cli.FormatRate(freq))
	cli.PrintInfo("Resolution", cli.FormatRate(d.Resolution()))
	fmt.Println(ui.Spectrum(d.Bands(64), 64))
	return nil
}
