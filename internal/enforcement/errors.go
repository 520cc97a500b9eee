package enforcement

import "errors"

// ErrAuthorizationRequired is returned when enforcement is requested before
// the user granted screen time authorization.
var ErrAuthorizationRequired = errors.New("screen time authorization is required to enforce app limits")
