package domain

// Level describes an experience level selectable for an interview. The level
// id doubles as the model identifier sent to the assistant gateway.
type Level struct {
	Title string
	Years int
}

const (
	// DefaultLevelID is used when a conversation carries no level.
	DefaultLevelID = "fresher"
	// FastLevelID selects the cheap model used for side calls such as title
	// suggestion.
	FastLevelID = "junior-engineer"
)

// Levels maps level ids to their years-of-experience parameter.
var Levels = map[string]Level{
	"fresher":         {Title: "Fresher", Years: 1},
	"junior-engineer": {Title: "Junior Software Engineer", Years: 2},
	"engineer":        {Title: "Software Engineer", Years: 3},
	"senior-engineer": {Title: "Senior Software Engineer", Years: 4},
	"tech-lead":       {Title: "Tech Lead", Years: 8},
}

// Purpose describes an interview track. SystemMessage is both the system
// prompt seed and the programming-language parameter of the question fetch.
type Purpose struct {
	Title         string
	SystemMessage string
}

// DefaultPurposeID is used when a conversation carries no purpose.
const DefaultPurposeID = "Generic"

// Purposes maps purpose ids to their track definition.
var Purposes = map[string]Purpose{
	"Catalyst":  {Title: "Node.js", SystemMessage: "Node.js"},
	"Custom":    {Title: "Custom", SystemMessage: "C++"},
	"Designer":  {Title: "Android", SystemMessage: "Android"},
	"Developer": {Title: "Python", SystemMessage: "Python"},
	"Executive": {Title: "Swift", SystemMessage: "Swift"},
	"Generic":   {Title: "PHP", SystemMessage: "PHP"},
	"Scientist": {Title: "Java", SystemMessage: "Java"},
}

// LevelOrDefault resolves a level id, falling back to DefaultLevelID.
func LevelOrDefault(id string) Level {
	if l, ok := Levels[id]; ok {
		return l
	}
	return Levels[DefaultLevelID]
}

// PurposeOrDefault resolves a purpose id, falling back to DefaultPurposeID.
func PurposeOrDefault(id string) Purpose {
	if p, ok := Purposes[id]; ok {
		return p
	}
	return Purposes[DefaultPurposeID]
}
