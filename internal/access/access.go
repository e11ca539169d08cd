package access

// The same policy is evaluated at two sites: the /admin path-prefix gate
// and again inside each mutation handler. Neither site may rely on the
// other having run.

const RoleAdministrator = "Administrator"

// Subject is the authenticated (or anonymous) caller.
type Subject struct {
	Authenticated bool
	Role          string
}

// Requirement describes what a route demands.
type Requirement struct {
	SignedIn bool
	Role     string // empty = any role
}

var (
	RequireSignIn        = Requirement{SignedIn: true}
	RequireAdministrator = Requirement{SignedIn: true, Role: RoleAdministrator}
)

type Decision int

const (
	Allow Decision = iota
	DenyAnonymous
	DenyRole
)

func Check(subject Subject, req Requirement) Decision {
	if req.SignedIn && !subject.Authenticated {
		return DenyAnonymous
	}
	if req.Role != "" && subject.Role != req.Role {
		return DenyRole
	}
	return Allow
}
