// Package events defines the trigger events handed from the producers to the
// control loop through the event queue.
//
// Available event kinds:
//   - Start: first cycle after the service boots
//   - Tick: periodic recompute from the timer
//   - ReservationChanged: a reservation source saw a new or altered booking
//   - Stop: terminal sentinel, ends the control loop
package events
