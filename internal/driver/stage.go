package driver

// Stage is one step of the fixed build pipeline. Ordinals are stable; the
// CLI derives exit codes from them.
type Stage int

const (
	NotStarted Stage = iota
	SourcesReady
	KernelConfigured
	KernelBuilt
	RootTaskBuilt
	Linked
	Done
)

func (s Stage) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case SourcesReady:
		return "SourcesReady"
	case KernelConfigured:
		return "KernelConfigured"
	case KernelBuilt:
		return "KernelBuilt"
	case RootTaskBuilt:
		return "RootTaskBuilt"
	case Linked:
		return "Linked"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// State is the progress marker of one run. It is never shared between runs.
type State struct {
	Current Stage
	History []Stage
}

func newState() *State {
	return &State{Current: NotStarted, History: []Stage{NotStarted}}
}

func (s *State) advance(to Stage) {
	s.Current = to
	s.History = append(s.History, to)
}
