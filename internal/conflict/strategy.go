package conflict

type Strategy string

const (
	LocalWins     Strategy = "local-wins"
	RemoteWins    Strategy = "remote-wins"
	LeaderWins    Strategy = "leader-wins"
	TimestampWins Strategy = "timestamp-wins"

	DefaultStrategy = LeaderWins
)

// ParseStrategy maps a configured name to a Strategy. Unknown names resolve
// as RemoteWins and ok is false. An empty name selects DefaultStrategy.
func ParseStrategy(name string) (s Strategy, ok bool) {
	switch Strategy(name) {
	case "":
		return DefaultStrategy, true
	case LocalWins, RemoteWins, LeaderWins, TimestampWins:
		return Strategy(name), true
	default:
		return RemoteWins, false
	}
}
