package h2state

// Interest is the subset of I/O readiness events an owning event loop is
// asked to watch for on a connection's file descriptor. It stands in for
// the poller's own readiness set; this module only produces and mutates
// values of this type, it never polls anything itself.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Hup
	Err
)

// defaultInterest is what every fresh State starts with: the connection
// is always watched for readability, hangup, and error, never initially
// for writability (nothing is queued to write yet).
const defaultInterest = Readable | Hup | Err

// Has reports whether every flag in other is set in i.
func (i Interest) Has(other Interest) bool {
	return i&other == other
}

// Union returns i with other's flags added.
func (i Interest) Union(other Interest) Interest {
	return i | other
}

// Difference returns i with other's flags cleared.
func (i Interest) Difference(other Interest) Interest {
	return i &^ other
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	s := ""
	add := func(flag Interest, name string) {
		if i.Has(flag) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(Readable, "readable")
	add(Writable, "writable")
	add(Hup, "hup")
	add(Err, "error")
	return s
}
