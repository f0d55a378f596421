package domain

// Role values carried in the access token's role claim.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Tokens is the persisted part of a session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Role         string
}

func (t Tokens) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.Role == ""
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Role        string `json:"role"`
}

// Session is a read-only view of the current authentication state.
type Session struct {
	AccessToken  string
	RefreshToken string
	Role         string
	User         *User
}

func (s Session) IsAuthenticated() bool {
	return s.AccessToken != ""
}

// AuthState is the state of the session state machine.
type AuthState string

const (
	StateAnonymous     AuthState = "ANONYMOUS"
	StateAuthenticated AuthState = "AUTHENTICATED"
)

func (s AuthState) String() string {
	return string(s)
}
