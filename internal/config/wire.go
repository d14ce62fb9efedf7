package config

import "twinbridge/internal/wire"

// Classifier builds the physical/digital prefix table from the configured prefixes
func (c *Config) Classifier() (*wire.Classifier, error) {
	return wire.NewTwinClassifier(c.PhysicalPrefix, c.DigitalPrefix)
}

func (c *Config) Layout() (wire.Layout, error) {
	return wire.ParseLayout(c.FrameLayout)
}
