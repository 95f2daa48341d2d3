package app

// ErrorKind classifies a failed operation without committing to any
// transport representation. HTTP statuses are assigned in http.go.
type ErrorKind int

const (
	KindUnauthenticated ErrorKind = iota + 1
	KindForbidden
	KindNotFound
	KindValidation
	KindInvalidCredentials
	KindRateLimited
)

type DomainError struct {
	Kind    ErrorKind
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func notFound(message string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: message}
}

func forbidden(message string) *DomainError {
	return &DomainError{Kind: KindForbidden, Message: message}
}

func validation(message string) *DomainError {
	return &DomainError{Kind: KindValidation, Message: message}
}

func invalidCredentials() *DomainError {
	return &DomainError{Kind: KindInvalidCredentials, Message: "Invalid username/password"}
}
