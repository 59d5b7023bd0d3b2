// Package reboot schedules the delayed forced restart that finishes applying
// installed updates.
package reboot

// Reason is the user-visible explanation attached to the scheduled restart.
const Reason = "Restarting to finish installing Windows updates"
