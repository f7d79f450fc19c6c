// Package campaign implements campaign lifecycle management for the
// sequence engine.
//
// The service layer owns the campaign state machine and every scheduling
// decision: activation, pause, resume, cancellation, step addition, and the
// quota-aware orchestration that turns a step's contact list into timed
// email messages. It depends only on the collaborator interfaces defined
// here and in contacts/, quota/ and dispatch/; it never imports from the
// HTTP layer.
//
// The repository implementation lives in repository/postgres/.
package campaign
