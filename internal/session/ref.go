package session

// Ref names exactly one way to locate a session. Lookup call sites construct
// one of the three variants instead of passing independently-nullable ids, so
// "exactly one of several" intent is explicit and type-checked.
type Ref struct {
	kind  RefKind
	value string
}

type RefKind int

const (
	RefInvalid RefKind = iota
	RefToken
	RefApplication
	RefKYCApplication
)

func ByToken(token string) Ref       { return Ref{kind: RefToken, value: token} }
func ByApplication(id string) Ref    { return Ref{kind: RefApplication, value: id} }
func ByKYCApplication(id string) Ref { return Ref{kind: RefKYCApplication, value: id} }

func (r Ref) Kind() RefKind { return r.kind }
func (r Ref) Value() string { return r.value }

func (r Ref) Valid() bool {
	return r.kind != RefInvalid && r.value != ""
}
