package flows

// Deps groups flow dependency sets that do not vary per call. The root
// client builds this once; login deps are assembled per call because they
// capture the submitted credentials.
type Deps struct {
	Refresh RefreshDeps
}
