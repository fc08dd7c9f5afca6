// Package search tracks metadata harvesting campaigns.
//
// A [Search] mirrors download.Dataset one level up: instead of bytes it
// counts harvested datasets, and it finishes once every dataset of the
// query is harvested. Harvesting itself is done by a [Harvester] on its own
// scheduler, separate from the one running file transfers.
//
// After harvesting, [Search.Apply] hands the datasets to a
// download.Registry, restricted to the files selected per dataset.
package search
