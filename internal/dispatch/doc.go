// Package dispatch runs sync cycles: it drains the queue into one ordered
// batch, submits it, and puts back whatever the endpoint did not accept.
//
// Only one cycle runs at a time; a cycle requested while another is in
// flight returns OutcomeBusy without touching the queue. Items that could not
// be restored after a failed submission are held in memory and restored at
// the start of the next cycle.
//
// On shutdown the owner calls Shutdown so new cycles return OutcomeStopped,
// Abort to cancel a submission that outlives its grace period, and Drain to
// wait until the aborted cycle has restored its items.
package dispatch
