// Package page adapts a CDP-driven browser page to the small capability
// surface the streaming channel consumes.
//
// The gateway attaches to the agent's running browser (BROWSER_CONTROL_URL)
// and binds to existing targets; it never launches, navigates, or closes
// pages. The Page interface keeps rod out of the domain packages and lets
// tests substitute fakes.
package page
