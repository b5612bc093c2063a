package fldigi

import (
	"context"
	"fmt"
	"slices"
)

// Info is a snapshot of the modem and rig settings.
type Info struct {
	Version   string
	Modem     string
	Carrier   int
	Bandwidth int
	RigMode   string
	Frequency float64
}

// Settings lists the changes Configure applies. Zero fields are left alone.
type Settings struct {
	// Modem is a modem name as listed by fldigi, e.g. PSK125R.
	Modem string
	// Carrier is the audio carrier in Hz. Setting it turns AFC off so the carrier stays put.
	Carrier   int
	Bandwidth int
	RigMode   string
	Frequency float64
}

// Info queries fldigi for its version, modem and rig settings.
func (c *Controller) Info(ctx context.Context) (Info, error) {
	var info Info
	steps := []struct {
		method string
		reply  any
	}{
		{"fldigi.version", &info.Version},
		{"modem.get_name", &info.Modem},
		{"modem.get_carrier", &info.Carrier},
		{"modem.get_bandwidth", &info.Bandwidth},
		{"rig.get_mode", &info.RigMode},
		{"main.get_frequency", &info.Frequency},
	}
	for _, step := range steps {
		if err := c.call(ctx, step.method, nil, step.reply); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}

// Configure applies s. An unknown modem name is rejected before anything changes.
func (c *Controller) Configure(ctx context.Context, s Settings) error {
	if s.Modem != "" {
		var names []string
		if err := c.call(ctx, "modem.get_names", nil, &names); err != nil {
			return err
		}
		if !slices.Contains(names, s.Modem) {
			return fmt.Errorf("fldigi: unknown modem %q", s.Modem)
		}
		if err := c.call(ctx, "modem.set_by_name", s.Modem, nil); err != nil {
			return err
		}
	}
	if s.Carrier != 0 {
		if err := c.call(ctx, "modem.set_carrier", s.Carrier, nil); err != nil {
			return err
		}
		if err := c.call(ctx, "main.set_afc", false, nil); err != nil {
			return err
		}
	}
	if s.Bandwidth != 0 {
		if err := c.call(ctx, "modem.set_bandwidth", s.Bandwidth, nil); err != nil {
			return err
		}
	}
	if s.RigMode != "" {
		if err := c.call(ctx, "rig.set_mode", s.RigMode, nil); err != nil {
			return err
		}
	}
	if s.Frequency != 0 {
		if err := c.call(ctx, "main.set_frequency", s.Frequency, nil); err != nil {
			return err
		}
	}
	return nil
}
