// Package transport defines the worker→server wire contract: the Report
// message and the markbook.v1.ReportService gRPC service with its single
// unary method SendReport.
//
// Messages travel as JSON over gRPC. The codec is registered under the
// content-subtype "json" when this package is imported, and the client sets
// that subtype on every call, so no generated protobuf code is involved.
package transport
