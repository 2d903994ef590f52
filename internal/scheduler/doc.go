// Package scheduler owns the live set of weekly season triggers.
//
// A Registry derives the desired triggers from every active season
// (poll open, poll reminder, match-day reminder) and reconciles them
// against what is registered with a Dispatcher, keyed by a stable id such
// as "season:7:poll-open". Reconcile is serialized and all-or-nothing: new
// entries are registered before old ones are cancelled, and a failed
// registration leaves the previous set armed.
//
// CronDispatcher is the production Dispatcher, built on robfig/cron.
package scheduler
