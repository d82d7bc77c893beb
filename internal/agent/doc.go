// Package agent hosts the long-lived cache controller. It seeds the versioned
// store on install, claims connected clients on activate, and forwards every
// intercepted request to the fetch coordinator while tracking the background
// work each request leaves behind.
package agent
