// Package security implements the capability-token layer at the core's
// boundary: it wraps write and query with a SecurityContext carrying
// capabilities, attributes, and a budget ceiling, checks capability
// admission, and ANDs a secondary filter expression into read queries
// (row-level security hook).
//
// Policy evaluation beyond that capability-check surface (who is
// entitled to which capability, how attributes map to row filters, field
// masking after rows are returned) belongs to a collaborator above this
// package; only the admission mechanism lives here: verifying a token,
// turning it into a SecurityContext, and applying its row filter and
// capability checks to an incoming operation.
package security
