// Package alert turns claim failures on the event bus into operator
// messages. A claim that starts failing is reported once, reminded while it
// keeps failing, and reported again when it recovers.
package alert
