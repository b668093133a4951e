// Package delivery is the service boundary around the prioritization engine.
// It loads recipient preferences, prioritizes and clusters incoming alerts,
// persists one Delivery per alert, sends due deliveries through the
// registered Notifiers and parks the rest on a Queue until their scheduled
// time. A Dispatcher drains that queue on a cron schedule.
package delivery
