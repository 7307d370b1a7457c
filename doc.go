// Package cytoqc provides automated quality control for flow-cytometry
// event lists.
//
// A run splits the acquisition into overlapping windows, extracts the
// density peaks of every channel per window, and flags windows whose peaks
// are unstable. Discarded windows are expanded into a per-event keep mask.
//
// # Basic Usage
//
// Load events and run with the default configuration:
//
//	ds, err := cytoqc.ReadCSV(f)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := cytoqc.Run(ds, cytoqc.DefaultConfig(ds.FluorescenceChannelNames()...))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	clean, err := ds.ApplyMask(res.GoodEvents)
//
// # Pipeline
//
// Detection:
//   - Gaussian kernel density per window with FFT binned convolution
//   - Peak clustering across windows by nearest median
//   - Isolation forest over the window by peak-cluster matrix
//   - MAD outliers of spline-smoothed peak trajectories
//   - Short stable runs between bad windows are discarded
//
// Preprocessing:
//   - Margin event removal ([RemoveMargins])
//   - Doublet removal by area to height ratio ([RemoveDoublets])
//   - Monotonic drift detection ([DetectMonotonic])
//
// Reporting:
//   - Mask and metadata export (CSV, JSON)
//   - Report storage on the filesystem, in memory or in S3, optionally
//     encrypted with AES-256-GCM
//   - SQLite or PostgreSQL run index
//   - Prometheus metrics and remote write of per-window verdicts
//   - HTTP API with live stage streaming over WebSocket
//
// # Configuration
//
// Use [ConfigBuilder] for programmatic configuration:
//
//	cfg, err := cytoqc.NewConfigBuilder("FL1-A", "FL2-A").
//	    WithMode(cytoqc.ModeMAD).
//	    WithMADThreshold(5).
//	    Build()
//
// or [ParseConfigFile] to load a deployment from YAML.
package cytoqc
