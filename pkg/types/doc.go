/*
Package types defines the data model shared by every lobby component.

# Visitors

A Visitor is created pending on first registration and later moved to
approved or blocked by an operator:

	          register
	  (none) ─────────▶ pending
	                      │
	          approve     │     block
	        ┌─────────────┴─────────────┐
	        ▼                           ▼
	    approved ◀──────── approve ── blocked
	        └────────── block ─────────▶

Both approved and blocked are terminal for the visitor, but an operator may
flip between them; each flip is a new committed transition. ContentRef is an
opaque reference into the content catalog and is only meaningful once the
visitor is approved. ConnectionStatus is computed on read from the push
registry and the last poll time and is never stored.

# Admin events

AdminEvent carries one state change to operators. Kinds new_visitor,
visitor_updated and visitor_deleted originate in the transition engine,
new_alert in the alerts collaborator, and visitor_online / visitor_offline in
the push manager.
*/
package types
