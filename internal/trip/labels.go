package trip

// Purpose and Companion are filled in by the user when confirming a trip.
// Auto-detected trips are stored with the defaults below.

type Purpose string

const (
	PurposeWork      Purpose = "work"
	PurposeEducation Purpose = "education"
	PurposeShopping  Purpose = "shopping"
	PurposeLeisure   Purpose = "leisure"
	PurposePersonal  Purpose = "personal"
	PurposeMedical   Purpose = "medical"
	PurposeOther     Purpose = "other"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeWork, PurposeEducation, PurposeShopping, PurposeLeisure,
		PurposePersonal, PurposeMedical, PurposeOther:
		return true
	}
	return false
}

type Companion string

const (
	CompanionAlone      Companion = "alone"
	CompanionFamily     Companion = "family"
	CompanionFriends    Companion = "friends"
	CompanionColleagues Companion = "colleagues"
	CompanionOther      Companion = "other"
)

func (c Companion) Valid() bool {
	switch c {
	case CompanionAlone, CompanionFamily, CompanionFriends, CompanionColleagues, CompanionOther:
		return true
	}
	return false
}

const (
	DefaultPurpose   = PurposeOther
	DefaultCompanion = CompanionAlone
)
