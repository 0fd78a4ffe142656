// Package sdk embeds the coral profiling agent in a Go service so that the
// service can be profiled on demand by a collector.
//
// Basic integration:
//
//	import "github.com/coral-mesh/coral-profiler/pkg/sdk"
//
//	func main() {
//	    ctx := context.Background()
//	    profiler, err := sdk.Start(ctx, sdk.Config{
//	        ServiceName:       "checkout",
//	        CollectorEndpoint: "http://collector:11800",
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer profiler.Close()
//
//	    http.ListenAndServe(":8080", handler)
//	}
//
// Settings not given in Config come from the agent config file and the
// CORAL_PROFILER_* environment variables. Profiling never fails the host
// service: errors after Start are logged only.
package sdk
