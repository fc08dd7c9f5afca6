// Package observer provides the registration and notification mechanism
// used by file transfers, dataset downloads and search campaigns to report
// progress, completion, failure and authorization refusals.
//
// # Usage
//
//	var bus observer.Bus[*download.File]
//	bus.Subscribe(observer.Funcs[*download.File]{
//	    Completed: func(f *download.File) { fmt.Println(f.ID(), "done") },
//	})
//	bus.Completed(f)
//
// Notifications usually originate on worker goroutines. Consumers that need
// to process them on a single goroutine can subscribe a [Channel] and range
// over its events.
package observer
