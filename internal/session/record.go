package session

// Record is the server-trusted content of a session. It only ever holds the
// bearer token issued by the identity authority; identity details are fetched
// fresh on each request and never stored here.
type Record struct {
	UserToken string
}

// HasToken reports whether the record carries a bearer token.
func (r Record) HasToken() bool {
	return r.UserToken != ""
}
