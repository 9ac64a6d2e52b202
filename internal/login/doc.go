// Package login obtains OAuth tokens through the authorization code flow with PKCE.
//
// In browser mode a temporary server on the loopback interface receives the
// authorization callback. In headless mode the user completes the flow on another
// device and pastes the final redirect URL back into the terminal.
package login
