// Package shared holds helpers used across packages that belong to no
// single domain. testutil captures structured logs in tests.
package shared
