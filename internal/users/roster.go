package users

import "github.com/MarcoPoloResearchLab/notemate/internal/editor"

const (
	// LocalUserID is the participant driven by the editing surface.
	LocalUserID editor.UserID = "user-vivien"
	// BobUserID is the first simulated collaborator.
	BobUserID editor.UserID = "user-bob"
	// CharlieUserID is the second simulated collaborator.
	CharlieUserID editor.UserID = "user-charlie"
)

// DefaultRoster is the fixed set of participants a session starts with. The local user comes first.
func DefaultRoster() []Profile {
	return []Profile{
		{ID: LocalUserID, Name: "Vivien", Color: "#10b981"},
		{ID: BobUserID, Name: "Bob", Color: "#f59e0b"},
		{ID: CharlieUserID, Name: "Charlie", Color: "#8b5cf6"},
	}
}

// Remote returns the roster without the local participant.
func Remote(roster []Profile, localID editor.UserID) []Profile {
	remote := make([]Profile, 0, len(roster))
	for _, profile := range roster {
		if profile.ID != localID {
			remote = append(remote, profile)
		}
	}
	return remote
}
