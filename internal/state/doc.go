// Package state persists download registry snapshots in a blob bucket.
//
// Any gocloud.dev/blob URL works as a store location, as long as the
// matching driver is linked into the binary:
//
//	file:///var/lib/gridfetch
//	mem://
//	s3://my-bucket?region=us-east-1
//	gs://my-bucket
//
// A Store holds one snapshot under a single key. The Autosaver writes a
// fresh snapshot on a fixed interval and once more when it stops, so a
// restarted process loses at most one interval of progress; the download
// package reconciles whatever the snapshot missed against the files on
// disk.
package state
