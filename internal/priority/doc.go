// Package priority is the decision core of Lookout. It scores competitive
// alerts, derives business context, picks delivery channels, schedules
// delivery around quiet hours and digests, and clusters related alerts.
// Everything here is pure and synchronous; the Engine holds only immutable
// configuration and is safe for concurrent use.
package priority
