// Package role defines the closed set of account roles and a bitmask for role
// checks. The canonical representation is the upper-case name (ADMIN,
// POLICE_OFFICER, CITIZEN); ROLE_ prefixed spellings are accepted on input only.
package role
