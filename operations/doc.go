/*
Package operations provides the operation execution framework: long running, failure prone and
cancellable units of work composed into ordered pipelines, with their outcomes aggregated into a
status tree.

# Core Components

Status:
  - Immutable outcome record (OK, WARNING, ERROR) with an optional cause and children
  - Severity of a node is the maximum of its own severity and its children's
  - Every failure carries a FailureKind (reportable, unreportable, hidden, cancelled)

Operation:
  - Named, weighted unit of work running a Handler
  - Run never panics and never returns an error: failures become status nodes
  - ReportStatus is the single place a failure enters both the status and the console
  - ProtectStep runs internal phases of a body with the same error handling

CompositeOperation:
  - Runs children sequentially in insertion order
  - Skips children whose dependencies failed, were skipped, or (strict mode) warned
  - Splits its progress range between children by weight

LoggedOperation:
  - Runs a decorated operation and forwards its failures to the persistent LogSink
  - Cancellations and hidden failures are never logged

ProgressSink and ProgressMonitor:
  - Host supplied console feed and progress/cancellation monitor

# Basic Usage

	b := operations.NewBundle(lggr, operations.WithLogSink(store))

	checkout := operations.NewOperation(b, operations.Definition{ID: "checkout"}, checkoutHandler)
	build := operations.NewOperation(b, operations.Definition{ID: "build"}, buildHandler, operations.WithWeight(3))

	pipeline := operations.NewCompositeOperation(b, operations.Definition{ID: "update"})
	pipeline.Add(checkout)
	pipeline.Add(build, checkout)

	status, err := operations.Execute(b, pipeline, monitor, operations.WithExecuteSink(console))
*/
package operations
