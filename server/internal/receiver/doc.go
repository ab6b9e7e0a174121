// Package receiver implements transport.ReportServiceServer, the gRPC
// endpoint that accepts Report messages from markbook-worker instances.
//
// Receiver.SendReport rejects reports without a tenant or failing structural
// validation with codes.InvalidArgument, which the worker treats as permanent.
// Accepted reports replace the tenant's entry in the store; a report older than
// the stored one is acknowledged and dropped. Stored reports are then written
// to the rank-list cache and run through the alert rules when those are
// configured. Authentication is enforced upstream by the gRPC interceptor.
package receiver
