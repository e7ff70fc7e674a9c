// Package identity implements the identity and access core of an
// authentication backend: email registration with code activation, OAuth
// account linking, multi-device sessions and role based permissions.
//
// Registration:
//   - Register stores a PendingRegistration keyed by email and mails a six
//     digit code. Re-registering the same email replaces the pending record.
//   - Activate converts a pending record into a User exactly once. Wrong codes
//     count against a bounded attempt budget; exhausting it deletes the record.
//
// Linking:
//   - A User carries the ordered list of linked providers plus one external id
//     column per OAuth provider. External ids are globally unique.
//   - Link/unlink writes are compare-and-swap updates on users.version so two
//     concurrent unlinks can never leave an account with zero providers.
//
// Sessions:
//   - Every login creates a Session with an opaque refresh token stored as a
//     sha256 digest. Refresh rotates the token with a conditional update so the
//     previous value stops working.
//   - Access tokens are short lived JWTs bound to a session id.
//
// Permissions:
//   - Effective permissions are the role permissions plus unexpired direct
//     grants. The "*" permission satisfies every check; everything else is an
//     exact string match.
//
// Activity sinks:
//   - ActivitySink receives audit events for registration, login, linking and
//     permission changes. Sinks run best-effort so metrics or audit logs never
//     block the request path.
package identity
