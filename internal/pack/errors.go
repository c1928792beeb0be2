package pack

import "fmt"

// PackagingError fails the archive of one function, or of the service when
// packaging is not individual
type PackagingError struct {
	Alias string
	Path  string
	Err   error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("packaging failed for %s: %s: %v", e.Alias, e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// CopyError fails the copy of one pre-built artifact
type CopyError struct {
	Alias string
	Path  string
	Err   error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copying pre-built artifact failed for %s: %s: %v", e.Alias, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}
