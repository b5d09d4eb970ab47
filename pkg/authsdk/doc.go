/*
Package authsdk provides a client SDK for the ERP authentication service,
plus the request and response types the service itself speaks.

# SDKClient vs Session

The package is organized around two main types:

  - SDKClient: public operations (register, password recovery, health) and
    the entry point for logging in
  - Session: authenticated operations with automatic token refresh

Create an SDKClient and log in to obtain a Session:

	client := authsdk.NewSDKClient("https://erp.example.com")

	session, err := client.Login(ctx, authsdk.LoginRequest{
		Email:    "ada@example.com",
		Password: "Abc12345!",
	})

	me, err := session.Me(ctx)

A Session refreshes its access token shortly before expiry. Refresh tokens
are single use, so a Session must not be shared between processes.

# Errors

Every non-2xx response is returned as an *APIError carrying the HTTP status
and the machine-readable code from the response envelope:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.CodeInvalidCredentials {
		// ...
	}
*/
package authsdk
