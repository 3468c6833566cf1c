package emotion

// ID identifies one of the expressions the wearable display can render.
// The numeric value is what goes over the wire to the actuator.
type ID int

const (
	// Neutral is the fallback expression when no rule matches.
	Neutral ID = 0
	Calm    ID = 1
	Happy   ID = 2
	Excited ID = 3
	// Frantic is the peak expression, reached only at the top of the
	// speed range. The badge engine treats it as the "peak" emotion.
	Frantic ID = 4
)

func (id ID) String() string {
	switch id {
	case Neutral:
		return "neutral"
	case Calm:
		return "calm"
	case Happy:
		return "happy"
	case Excited:
		return "excited"
	case Frantic:
		return "frantic"
	default:
		return "unknown"
	}
}
