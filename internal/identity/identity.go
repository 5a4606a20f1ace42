// Package identity authenticates the platforms that submit registrations.
//
// It provides:
//   - PlatformTokenIssuer  — issues and verifies HS256 platform tokens
//   - RequirePlatformToken — Gin middleware enforcing a Bearer platform token
//   - PlatformFromCtx      — the authenticated platform for a request
package identity
