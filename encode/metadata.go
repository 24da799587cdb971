package encode

import "github.com/st-keller/charsync/types"

// Metadata produces the fixed keys appended to every data payload.
type Metadata func(state types.State) []Pair

// RequestMetadata is used by one-shot requests: each payload carries its own credentials.
// playtime is whole seconds.
func RequestMetadata(apiKey string) Metadata {
	return func(state types.State) []Pair {
		return []Pair{
			{Key: "playtime", Value: state.Elapsed() / 1000},
			{Key: "apiKey", Value: apiKey},
			{Key: "name", Value: state.Identity()},
		}
	}
}

// StreamMetadata is used on an authenticated socket: raw elapsed time only.
func StreamMetadata() Metadata {
	return func(state types.State) []Pair {
		return []Pair{
			{Key: "t", Value: state.Elapsed()},
		}
	}
}
