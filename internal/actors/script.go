package actors

import (
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/editor"
	"github.com/MarcoPoloResearchLab/notemate/internal/users"
)

// Line is one scripted chat line.
type Line struct {
	Speaker editor.UserID
	Message string
}

// Reaction maps a keyword found in a local chat message onto candidate replies.
type Reaction struct {
	Keyword   string
	Responses []string
}

// Step is one entry of the opening timeline. An empty Message means an edit.
type Step struct {
	Offset  time.Duration
	ActorID editor.UserID
	Message string
}

// Script holds the data that drives the simulated collaborators.
type Script struct {
	Opening       []Step
	Conversation  []Line
	Reactions     []Reaction
	Generic       []string
	CheckedSuffix string
	NoteFormat    string
	NewIdea       string
}

// DefaultScript is the meeting-notes session played by Bob and Charlie.
func DefaultScript() Script {
	bob, charlie := users.BobUserID, users.CharlieUserID
	return Script{
		Opening: []Step{
			{Offset: 0, ActorID: bob, Message: "Hi everyone! I'm starting on the document."},
			{Offset: 3 * time.Second, ActorID: charlie, Message: "Great! Joining the session."},
			{Offset: 6 * time.Second, ActorID: bob},
			{Offset: 9 * time.Second, ActorID: charlie},
		},
		Conversation: []Line{
			{Speaker: bob, Message: "Charlie, did you see the latest editor update?"},
			{Speaker: charlie, Message: "Yes Bob, the editor integration feels really smooth!"},
			{Speaker: bob, Message: "I'm working on the local storage optimization."},
			{Speaker: charlie, Message: "Nice! I'm polishing the UI components."},
			{Speaker: bob, Message: "Vivien did great work on the synchronization."},
			{Speaker: charlie, Message: "Absolutely, the simulated latency is very realistic."},
			{Speaker: bob, Message: "We should merge the feature branch this week."},
			{Speaker: charlie, Message: "Agreed, I'll finish the tests tonight."},
			{Speaker: bob, Message: "I fixed the cursor rendering bug."},
			{Speaker: charlie, Message: "Perfect! I'll review your PR."},
			{Speaker: bob, Message: "V2 is going to be amazing with all these features."},
			{Speaker: charlie, Message: "Real-time collaborative editing is the future!"},
		},
		Reactions: []Reaction{
			{Keyword: "hello", Responses: []string{"Hi Vivien!", "Hey! How's it going?", "Hello!"}},
			{Keyword: "hey", Responses: []string{"Hey there!", "Hi!", "Shall we keep going on the project?"}},
			{Keyword: "design", Responses: []string{"The design looks great.", "Yes, the UI is really clean.", "Are we keeping these colors?"}},
			{Keyword: "latency", Responses: []string{"I'm on the optimization.", "That's expected, we simulate the network.", "It's smooth on my side."}},
			{Keyword: "bravo", Responses: []string{"Thanks!", "We make a good team.", "Yes!"}},
			{Keyword: "what", Responses: []string{"We're discussing V2.", "We're checking the logs.", "I'm editing section 3."}},
			{Keyword: "notemate", Responses: []string{"NoteMate is the future of collaborative editing!", "This project will change how we take notes.", "We're almost there!"}},
			{Keyword: "vivien", Responses: []string{"Vivien is our lead dev on this project.", "Vivien designed the architecture.", "Hi Vivien!"}},
			{Keyword: "mobile", Responses: []string{"The header is compact on phones now.", "The editor adapts well to small screens.", "Don't forget to check the footer console."}},
			{Keyword: "bug", Responses: []string{"I'm looking at it right now.", "Which bug? I'll check.", "We'll fix it together."}},
			{Keyword: "help", Responses: []string{"I'm here to help!", "Tell me what you need.", "We're a team!"}},
			{Keyword: "thanks", Responses: []string{"You're welcome!", "My pleasure!", "Anytime!"}},
		},
		Generic:       []string{"Interesting!", "I see.", "Okay!", "Noted."},
		CheckedSuffix: " [DONE]",
		NoteFormat:    " // note from %s",
		NewIdea:       "\n* Important point to discuss",
	}
}

// span is the offset of the last opening step.
func (s Script) span() time.Duration {
	var longest time.Duration
	for _, step := range s.Opening {
		if step.Offset > longest {
			longest = step.Offset
		}
	}
	return longest
}

// linesFor returns the conversation lines spoken by actorID.
func (s Script) linesFor(actorID editor.UserID) []string {
	var lines []string
	for _, line := range s.Conversation {
		if line.Speaker == actorID {
			lines = append(lines, line.Message)
		}
	}
	return lines
}
