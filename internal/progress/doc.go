// Package progress provides progress reporting for downloads.
//
// A Reporter observes datasets and periodically prints aggregate progress
// across all of them, plus one line whenever a dataset finishes or fails.
//
// # Usage
//
//	reporter := progress.NewReporter(registry, progress.Options{Output: os.Stderr})
//	registry.Observe(reporter)
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[gridfetch] Progress: 45.2% | 1.13 GiB / 2.5 GiB | Speed: 12.4 MiB/s | ETA: 1m 32s
//	[gridfetch] Files: 5 active | 12 finished | 1 failed | 40 pending
//	[gridfetch] Finished cmip5.output1.MPI-M.MPI-ESM-LR.rcp45.day.atmos.v20111014: 2.5 GiB in 3m 10s
package progress
