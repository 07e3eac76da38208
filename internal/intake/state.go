package intake

// State is a step of the intake protocol. States only move forward.
type State int

const (
	Start State = iota
	IdentitiesVerified
	LogOpened
	OutputCreated
	PrivilegesDropped
	DirectoryPackaged
	ArchiveRewound
	SanityChecked
	Finalizing
	FeedbackDelegated
	Listing
	Done
)

var stateNames = [...]string{
	Start:              "start",
	IdentitiesVerified: "identities-verified",
	LogOpened:          "log-opened",
	OutputCreated:      "output-created",
	PrivilegesDropped:  "privileges-dropped",
	DirectoryPackaged:  "directory-packaged",
	ArchiveRewound:     "archive-rewound",
	SanityChecked:      "sanity-checked",
	Finalizing:         "finalizing",
	FeedbackDelegated:  "feedback-delegated",
	Listing:            "listing",
	Done:               "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
