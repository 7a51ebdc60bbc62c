package session

import "errors"

// ErrNoCookieSource is returned by Auth when the session was built without a cookie source.
var ErrNoCookieSource = errors.New("session has no cookie source")
